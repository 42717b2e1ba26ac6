package dialog

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// PromptOptions configures a prompt dialog for one use.
type PromptOptions struct {
	Prompt      string
	RetryPrompt string
	Choices     []string
}

func (o PromptOptions) toMap() map[string]any {
	m := map[string]any{
		"prompt": o.Prompt,
		"retry":  o.RetryPrompt,
	}
	if len(o.Choices) > 0 {
		choices := make([]any, len(o.Choices))
		for i, c := range o.Choices {
			choices[i] = c
		}
		m["choices"] = choices
	}
	return m
}

// promptOptionsFrom rebuilds options from the persisted instance map, which
// has been through a JSON round trip.
func promptOptionsFrom(m map[string]any) PromptOptions {
	o := PromptOptions{}
	if m == nil {
		return o
	}
	o.Prompt, _ = m["prompt"].(string)
	o.RetryPrompt, _ = m["retry"].(string)
	if raw, ok := m["choices"].([]any); ok {
		for _, c := range raw {
			if s, ok := c.(string); ok {
				o.Choices = append(o.Choices, s)
			}
		}
	}
	return o
}

// TextPrompt asks for free text and completes with the trimmed reply.
type TextPrompt struct {
	id string
}

// NewTextPrompt creates a text prompt dialog.
func NewTextPrompt(id string) *TextPrompt {
	return &TextPrompt{id: id}
}

func (p *TextPrompt) ID() string { return p.id }

func (p *TextPrompt) Begin(ctx context.Context, dc *Context, options map[string]any) (Result, error) {
	opts := promptOptionsFrom(options)
	if opts.Prompt != "" {
		if err := dc.Turn.Sender.SendText(ctx, opts.Prompt); err != nil {
			return Result{}, err
		}
	}
	return Result{Status: StatusWaiting}, nil
}

func (p *TextPrompt) Continue(ctx context.Context, dc *Context) (Result, error) {
	text := strings.TrimSpace(dc.Turn.Activity.Text)
	if text == "" {
		opts := promptOptionsFrom(dc.Active().Options)
		retry := opts.RetryPrompt
		if retry == "" {
			retry = opts.Prompt
		}
		if retry != "" {
			if err := dc.Turn.Sender.SendText(ctx, retry); err != nil {
				return Result{}, err
			}
		}
		return Result{Status: StatusWaiting}, nil
	}
	return dc.End(ctx, text)
}

func (p *TextPrompt) Resume(ctx context.Context, dc *Context, value any) (Result, error) {
	// Prompts have no children; stay waiting.
	return Result{Status: StatusWaiting}, nil
}

// ChoicePrompt asks the user to pick one of a fixed list, accepting either
// the choice text (case-insensitive) or its 1-based number.
type ChoicePrompt struct {
	id string
}

// NewChoicePrompt creates a choice prompt dialog.
func NewChoicePrompt(id string) *ChoicePrompt {
	return &ChoicePrompt{id: id}
}

func (p *ChoicePrompt) ID() string { return p.id }

func (p *ChoicePrompt) Begin(ctx context.Context, dc *Context, options map[string]any) (Result, error) {
	opts := promptOptionsFrom(options)
	if err := dc.Turn.Sender.SendText(ctx, renderChoices(opts.Prompt, opts.Choices)); err != nil {
		return Result{}, err
	}
	return Result{Status: StatusWaiting}, nil
}

func (p *ChoicePrompt) Continue(ctx context.Context, dc *Context) (Result, error) {
	opts := promptOptionsFrom(dc.Active().Options)
	text := strings.TrimSpace(dc.Turn.Activity.Text)

	if choice, ok := matchChoice(text, opts.Choices); ok {
		return dc.End(ctx, choice)
	}

	retry := opts.RetryPrompt
	if retry == "" {
		retry = opts.Prompt
	}
	if err := dc.Turn.Sender.SendText(ctx, renderChoices(retry, opts.Choices)); err != nil {
		return Result{}, err
	}
	return Result{Status: StatusWaiting}, nil
}

func (p *ChoicePrompt) Resume(ctx context.Context, dc *Context, value any) (Result, error) {
	return Result{Status: StatusWaiting}, nil
}

func matchChoice(text string, choices []string) (string, bool) {
	if text == "" {
		return "", false
	}
	for _, c := range choices {
		if strings.EqualFold(text, c) {
			return c, true
		}
	}
	if n, err := strconv.Atoi(text); err == nil && n >= 1 && n <= len(choices) {
		return choices[n-1], true
	}
	return "", false
}

func renderChoices(prompt string, choices []string) string {
	var b strings.Builder
	b.WriteString(prompt)
	for i, c := range choices {
		b.WriteString(fmt.Sprintf("\n%d. %s", i+1, c))
	}
	return b.String()
}
