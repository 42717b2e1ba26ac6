// Package dialog implements the multi-step conversational dialogue engine:
// a stack of named dialogs per conversation, waterfall dialogs whose steps
// run across turns, and prompts that pause a waterfall until the user
// replies. The stack is serialized into conversation state between turns.
package dialog

import (
	"context"
	"fmt"

	"github.com/averol/huddlebot/internal/teams"
)

// dialogStateBag is the state bag name holding the serialized dialog stack.
const dialogStateBag = "dialogState"

// Status describes the outcome of driving the dialog stack for one turn.
type Status int

const (
	// StatusEmpty means no dialog is active.
	StatusEmpty Status = iota
	// StatusWaiting means a dialog is waiting for the next user turn.
	StatusWaiting
	// StatusComplete means the outermost dialog finished this turn.
	StatusComplete
	// StatusCancelled means the stack was cancelled this turn.
	StatusCancelled
)

// Result is the outcome of a dialog operation, with the dialog's return
// value when Status is StatusComplete.
type Result struct {
	Status Status
	Value  any
}

// Dialog is a unit of conversational flow that can be pushed on the stack.
type Dialog interface {
	ID() string

	// Begin starts the dialog after it has been pushed on the stack.
	Begin(ctx context.Context, dc *Context, options map[string]any) (Result, error)

	// Continue drives the dialog with a new user turn while it is active.
	Continue(ctx context.Context, dc *Context) (Result, error)

	// Resume re-activates the dialog after a child dialog ended, with the
	// child's return value.
	Resume(ctx context.Context, dc *Context, value any) (Result, error)
}

// Sender is the outbound surface a dialog needs from the active turn.
type Sender interface {
	SendText(ctx context.Context, text string) error
	SendActivity(ctx context.Context, activity *teams.Activity) (string, error)
	SendCard(ctx context.Context, attachment teams.Attachment) (string, error)
}

// Turn pairs the inbound activity with an outbound sender for dialog use.
type Turn struct {
	Activity *teams.Activity
	User     teams.BotUser
	Sender   Sender
}

// NewTurn adapts a channel turn context for the dialog engine.
func NewTurn(tc *teams.TurnContext) *Turn {
	return &Turn{
		Activity: tc.Activity,
		User:     tc.User,
		Sender:   tc,
	}
}

// Instance is one stack frame: an active dialog and its persisted values.
type Instance struct {
	ID      string         `json:"id"`
	Step    int            `json:"step"`
	Values  map[string]any `json:"values"`
	Options map[string]any `json:"options,omitempty"`
}

type stackState struct {
	Stack []*Instance `json:"stack"`
}

// Set is the collection of dialogs known to the bot.
type Set struct {
	dialogs map[string]Dialog
}

// NewSet creates a dialog set from the given dialogs.
func NewSet(dialogs ...Dialog) *Set {
	s := &Set{dialogs: make(map[string]Dialog, len(dialogs))}
	for _, d := range dialogs {
		s.dialogs[d.ID()] = d
	}
	return s
}

// Add registers another dialog, replacing any dialog with the same id.
func (s *Set) Add(d Dialog) {
	s.dialogs[d.ID()] = d
}

// CreateContext builds a dialog context for the turn, restoring the dialog
// stack from conversation state.
func (s *Set) CreateContext(state *State, turn *Turn) (*Context, error) {
	dc := &Context{set: s, State: state, Turn: turn}
	var saved stackState
	if _, err := state.Get(dialogStateBag, &saved); err != nil {
		return nil, err
	}
	dc.stack = saved.Stack
	return dc, nil
}

// Context drives the dialog stack for one turn.
type Context struct {
	set   *Set
	State *State
	Turn  *Turn
	stack []*Instance
}

// Active returns the top stack frame, or nil when no dialog is active.
func (dc *Context) Active() *Instance {
	if len(dc.stack) == 0 {
		return nil
	}
	return dc.stack[len(dc.stack)-1]
}

func (dc *Context) lookup(id string) (Dialog, error) {
	d, ok := dc.set.dialogs[id]
	if !ok {
		return nil, fmt.Errorf("dialog %q is not registered", id)
	}
	return d, nil
}

// Begin pushes a dialog on the stack and starts it.
func (dc *Context) Begin(ctx context.Context, dialogID string, options map[string]any) (Result, error) {
	d, err := dc.lookup(dialogID)
	if err != nil {
		return Result{}, err
	}
	dc.stack = append(dc.stack, &Instance{
		ID:      dialogID,
		Values:  make(map[string]any),
		Options: options,
	})
	return d.Begin(ctx, dc, options)
}

// Continue drives the active dialog with the current turn. With an empty
// stack it reports StatusEmpty so the caller can begin the root dialog.
func (dc *Context) Continue(ctx context.Context) (Result, error) {
	inst := dc.Active()
	if inst == nil {
		return Result{Status: StatusEmpty}, nil
	}
	d, err := dc.lookup(inst.ID)
	if err != nil {
		// A dialog that no longer exists cannot be resumed; drop the stack.
		dc.stack = nil
		return Result{Status: StatusCancelled}, err
	}
	return d.Continue(ctx, dc)
}

// End pops the active dialog and resumes its parent with the return value.
// When the stack empties the result is StatusComplete.
func (dc *Context) End(ctx context.Context, value any) (Result, error) {
	if len(dc.stack) > 0 {
		dc.stack = dc.stack[:len(dc.stack)-1]
	}
	parent := dc.Active()
	if parent == nil {
		return Result{Status: StatusComplete, Value: value}, nil
	}
	d, err := dc.lookup(parent.ID)
	if err != nil {
		dc.stack = nil
		return Result{Status: StatusCancelled}, err
	}
	return d.Resume(ctx, dc, value)
}

// Replace swaps the active dialog for another, keeping the parent stack.
func (dc *Context) Replace(ctx context.Context, dialogID string, options map[string]any) (Result, error) {
	if len(dc.stack) > 0 {
		dc.stack = dc.stack[:len(dc.stack)-1]
	}
	return dc.Begin(ctx, dialogID, options)
}

// CancelAll clears the dialog stack.
func (dc *Context) CancelAll() Result {
	dc.stack = nil
	return Result{Status: StatusCancelled}
}

// Depth reports the current stack depth.
func (dc *Context) Depth() int {
	return len(dc.stack)
}

// Save serializes the dialog stack into conversation state and persists it.
func (dc *Context) Save(ctx context.Context) error {
	if len(dc.stack) == 0 {
		dc.State.Delete(dialogStateBag)
	} else if err := dc.State.Set(dialogStateBag, stackState{Stack: dc.stack}); err != nil {
		return err
	}
	return dc.State.Save(ctx)
}
