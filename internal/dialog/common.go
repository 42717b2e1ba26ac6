package dialog

import (
	"context"
	"strings"
)

// Interrupt classifies global commands that cut across whatever dialog is
// active.
type Interrupt int

const (
	InterruptNone Interrupt = iota
	InterruptCancel
	InterruptHelp
)

// DetectInterrupt checks a message for the global cancel/help commands that
// every dialogue honors before normal continuation.
func DetectInterrupt(text string) Interrupt {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "cancel", "quit", "stop":
		return InterruptCancel
	case "help", "?":
		return InterruptHelp
	default:
		return InterruptNone
	}
}

// Run drives the dialog stack for one message turn the way a host adapter
// would: continue the active dialog, begin the root dialog when idle, and
// persist the resulting stack.
func Run(ctx context.Context, set *Set, state *State, turn *Turn, rootID string) (Result, error) {
	dc, err := set.CreateContext(state, turn)
	if err != nil {
		return Result{}, err
	}

	res, err := dc.Continue(ctx)
	if err != nil {
		return res, err
	}
	if res.Status == StatusEmpty {
		res, err = dc.Begin(ctx, rootID, nil)
		if err != nil {
			return res, err
		}
	}

	if err := dc.Save(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// Cancel clears any active dialog stack for the conversation and persists
// the empty state.
func Cancel(ctx context.Context, set *Set, state *State, turn *Turn) error {
	dc, err := set.CreateContext(state, turn)
	if err != nil {
		return err
	}
	dc.CancelAll()
	return dc.Save(ctx)
}
