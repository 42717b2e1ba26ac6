package dialog

import (
	"context"
	"strings"
)

// WaterfallStep is one step of a waterfall dialog. Steps run in order
// across turns; the step decides whether to prompt, advance, or end.
type WaterfallStep func(ctx context.Context, sc *StepContext) (Result, error)

// WaterfallDialog runs a fixed sequence of steps, pausing at prompts and
// resuming at the next step when a child dialog returns.
type WaterfallDialog struct {
	id    string
	steps []WaterfallStep
}

// NewWaterfall creates a waterfall dialog from the given steps.
func NewWaterfall(id string, steps ...WaterfallStep) *WaterfallDialog {
	return &WaterfallDialog{id: id, steps: steps}
}

func (w *WaterfallDialog) ID() string { return w.id }

// Begin runs the first step.
func (w *WaterfallDialog) Begin(ctx context.Context, dc *Context, options map[string]any) (Result, error) {
	return w.runStep(ctx, dc, 0, options["input"])
}

// Continue treats the user's message as the resumption value for the next
// step. This only happens when a step returned Waiting without pushing a
// prompt child.
func (w *WaterfallDialog) Continue(ctx context.Context, dc *Context) (Result, error) {
	return w.Resume(ctx, dc, strings.TrimSpace(dc.Turn.Activity.Text))
}

// Resume advances to the next step with the child dialog's return value.
func (w *WaterfallDialog) Resume(ctx context.Context, dc *Context, value any) (Result, error) {
	inst := dc.Active()
	if inst == nil {
		return Result{Status: StatusEmpty}, nil
	}
	return w.runStep(ctx, dc, inst.Step+1, value)
}

func (w *WaterfallDialog) runStep(ctx context.Context, dc *Context, index int, input any) (Result, error) {
	if index >= len(w.steps) {
		return dc.End(ctx, nil)
	}
	inst := dc.Active()
	inst.Step = index
	sc := &StepContext{
		dialog: w,
		dc:     dc,
		inst:   inst,
		Input:  input,
	}
	return w.steps[index](ctx, sc)
}

// StepContext is the per-step view of the dialog context.
type StepContext struct {
	dialog *WaterfallDialog
	dc     *Context
	inst   *Instance

	// Input is the value the step was started or resumed with: the begin
	// options' input, a prompt result, or the raw user text.
	Input any
}

// Values returns the waterfall's persisted scratch values. Contents must
// stay JSON-serializable; numbers round-trip as float64.
func (sc *StepContext) Values() map[string]any {
	return sc.inst.Values
}

// Turn returns the active turn.
func (sc *StepContext) Turn() *Turn {
	return sc.dc.Turn
}

// State returns the conversation state for bags outside the dialog stack.
func (sc *StepContext) State() *State {
	return sc.dc.State
}

// InputText returns the step input as a trimmed string.
func (sc *StepContext) InputText() string {
	s, _ := sc.Input.(string)
	return strings.TrimSpace(s)
}

// Next runs the following step in the same turn, passing value as its input.
func (sc *StepContext) Next(ctx context.Context, value any) (Result, error) {
	return sc.dialog.runStep(ctx, sc.dc, sc.inst.Step+1, value)
}

// Prompt begins a prompt dialog; the waterfall resumes at the next step
// with the prompt's result on a later turn.
func (sc *StepContext) Prompt(ctx context.Context, promptID string, opts PromptOptions) (Result, error) {
	return sc.dc.Begin(ctx, promptID, opts.toMap())
}

// End finishes the waterfall, returning value to its parent.
func (sc *StepContext) End(ctx context.Context, value any) (Result, error) {
	return sc.dc.End(ctx, value)
}

// Replace swaps the waterfall for another dialog.
func (sc *StepContext) Replace(ctx context.Context, dialogID string, options map[string]any) (Result, error) {
	return sc.dc.Replace(ctx, dialogID, options)
}
