package dialog_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/averol/huddlebot/internal/database"
	"github.com/averol/huddlebot/internal/dialog"
	"github.com/averol/huddlebot/internal/teams"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) database.Store {
	t.Helper()

	db, err := database.NewDB(":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })

	return database.NewStore(db, testLogger())
}

// fakeSender records outbound messages for assertions.
type fakeSender struct {
	texts []string
	cards []teams.Attachment
}

func (f *fakeSender) SendText(_ context.Context, text string) error {
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeSender) SendActivity(_ context.Context, _ *teams.Activity) (string, error) {
	return "act-id", nil
}

func (f *fakeSender) SendCard(_ context.Context, attachment teams.Attachment) (string, error) {
	f.cards = append(f.cards, attachment)
	return "act-id", nil
}

func (f *fakeSender) lastText(t *testing.T) string {
	t.Helper()
	if len(f.texts) == 0 {
		t.Fatal("no text was sent")
	}
	return f.texts[len(f.texts)-1]
}

func newTurn(text string, sender *fakeSender) *dialog.Turn {
	return &dialog.Turn{
		Activity: &teams.Activity{
			Type:         teams.ActivityMessage,
			ChannelID:    "msteams",
			Conversation: teams.ConversationAccount{ID: "conv-1"},
			Text:         text,
		},
		User:   teams.BotUser{UserID: "user-1", UserName: "Dana"},
		Sender: sender,
	}
}

// runTurn loads conversation state, drives one message turn against the
// given root dialog, and persists.
func runTurn(t *testing.T, store database.Store, set *dialog.Set, sender *fakeSender, rootID, text string) dialog.Result {
	t.Helper()

	state, err := dialog.LoadState(context.Background(), store, "msteams", "conv-1")
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	res, err := dialog.Run(context.Background(), set, state, newTurn(text, sender), rootID)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return res
}

func newGreetSet() *dialog.Set {
	greet := dialog.NewWaterfall("greet",
		func(ctx context.Context, sc *dialog.StepContext) (dialog.Result, error) {
			return sc.Prompt(ctx, "namePrompt", dialog.PromptOptions{Prompt: "What is your name?"})
		},
		func(ctx context.Context, sc *dialog.StepContext) (dialog.Result, error) {
			if err := sc.Turn().Sender.SendText(ctx, fmt.Sprintf("Hello, %s!", sc.InputText())); err != nil {
				return dialog.Result{}, err
			}
			return sc.End(ctx, sc.InputText())
		},
	)
	return dialog.NewSet(greet, dialog.NewTextPrompt("namePrompt"))
}

func TestWaterfallWithTextPromptAcrossTurns(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	set := newGreetSet()
	sender := &fakeSender{}

	// Turn 1: no active dialog, the root waterfall begins and prompts.
	res := runTurn(t, store, set, sender, "greet", "hi")
	if res.Status != dialog.StatusWaiting {
		t.Fatalf("turn 1 status = %v, want StatusWaiting", res.Status)
	}
	if got := sender.lastText(t); got != "What is your name?" {
		t.Errorf("prompt text = %q", got)
	}

	// Turn 2: a fresh state load picks the stack up where it paused.
	res = runTurn(t, store, set, sender, "greet", "Ada")
	if res.Status != dialog.StatusComplete {
		t.Fatalf("turn 2 status = %v, want StatusComplete", res.Status)
	}
	if res.Value != "Ada" {
		t.Errorf("result value = %v, want Ada", res.Value)
	}
	if got := sender.lastText(t); got != "Hello, Ada!" {
		t.Errorf("final text = %q", got)
	}

	// Turn 3: the stack is empty again, so the waterfall restarts.
	res = runTurn(t, store, set, sender, "greet", "hi again")
	if res.Status != dialog.StatusWaiting {
		t.Fatalf("turn 3 status = %v, want StatusWaiting", res.Status)
	}
}

func TestTextPromptRetriesOnEmptyInput(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	set := newGreetSet()
	sender := &fakeSender{}

	runTurn(t, store, set, sender, "greet", "hi")

	res := runTurn(t, store, set, sender, "greet", "   ")
	if res.Status != dialog.StatusWaiting {
		t.Fatalf("status after empty reply = %v, want StatusWaiting", res.Status)
	}
	if got := sender.lastText(t); got != "What is your name?" {
		t.Errorf("retry text = %q", got)
	}

	res = runTurn(t, store, set, sender, "greet", "Grace")
	if res.Status != dialog.StatusComplete {
		t.Fatalf("status = %v, want StatusComplete", res.Status)
	}
}

func TestChoicePromptAcceptsTextAndNumber(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{name: "Exact text", reply: "green", want: "green"},
		{name: "Case-insensitive text", reply: "GREEN", want: "green"},
		{name: "One-based number", reply: "2", want: "green"},
		{name: "Surrounding whitespace", reply: "  red  ", want: "red"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store := newTestStore(t)
			pick := dialog.NewWaterfall("greet",
				func(ctx context.Context, sc *dialog.StepContext) (dialog.Result, error) {
					return sc.Prompt(ctx, "colorPrompt", dialog.PromptOptions{
						Prompt:  "Pick a color",
						Choices: []string{"red", "green"},
					})
				},
				func(ctx context.Context, sc *dialog.StepContext) (dialog.Result, error) {
					return sc.End(ctx, sc.InputText())
				},
			)
			set := dialog.NewSet(pick, dialog.NewChoicePrompt("colorPrompt"))
			sender := &fakeSender{}

			runTurn(t, store, set, sender, "greet", "start")
			res := runTurn(t, store, set, sender, "greet", tt.reply)
			if res.Status != dialog.StatusComplete {
				t.Fatalf("status = %v, want StatusComplete", res.Status)
			}
			if res.Value != tt.want {
				t.Errorf("value = %v, want %q", res.Value, tt.want)
			}
		})
	}
}

func TestChoicePromptReprompsOnInvalidReply(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	pick := dialog.NewWaterfall("greet",
		func(ctx context.Context, sc *dialog.StepContext) (dialog.Result, error) {
			return sc.Prompt(ctx, "colorPrompt", dialog.PromptOptions{
				Prompt:      "Pick a color",
				RetryPrompt: "That's not a color I know",
				Choices:     []string{"red", "green"},
			})
		},
		func(ctx context.Context, sc *dialog.StepContext) (dialog.Result, error) {
			return sc.End(ctx, sc.InputText())
		},
	)
	set := dialog.NewSet(pick, dialog.NewChoicePrompt("colorPrompt"))
	sender := &fakeSender{}

	runTurn(t, store, set, sender, "greet", "start")

	res := runTurn(t, store, set, sender, "greet", "blue")
	if res.Status != dialog.StatusWaiting {
		t.Fatalf("status = %v, want StatusWaiting", res.Status)
	}
	if got := sender.lastText(t); got != "That's not a color I know\n1. red\n2. green" {
		t.Errorf("retry text = %q", got)
	}

	// An out-of-range number is also rejected.
	res = runTurn(t, store, set, sender, "greet", "3")
	if res.Status != dialog.StatusWaiting {
		t.Fatalf("status after out-of-range = %v, want StatusWaiting", res.Status)
	}
}

func TestCancelClearsStack(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	set := newGreetSet()
	sender := &fakeSender{}

	runTurn(t, store, set, sender, "greet", "hi")

	state, err := dialog.LoadState(context.Background(), store, "msteams", "conv-1")
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if err := dialog.Cancel(context.Background(), set, state, newTurn("cancel", sender)); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	// The next message starts the root dialog fresh.
	res := runTurn(t, store, set, sender, "greet", "hello")
	if res.Status != dialog.StatusWaiting {
		t.Fatalf("status = %v, want StatusWaiting", res.Status)
	}
	if got := sender.lastText(t); got != "What is your name?" {
		t.Errorf("text = %q, want prompt restart", got)
	}
}

func TestDetectInterrupt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  dialog.Interrupt
	}{
		{"cancel", dialog.InterruptCancel},
		{"  Quit  ", dialog.InterruptCancel},
		{"STOP", dialog.InterruptCancel},
		{"help", dialog.InterruptHelp},
		{"?", dialog.InterruptHelp},
		{"hello", dialog.InterruptNone},
		{"", dialog.InterruptNone},
		{"cancel everything", dialog.InterruptNone},
	}

	for _, tt := range tests {
		if got := dialog.DetectInterrupt(tt.input); got != tt.want {
			t.Errorf("DetectInterrupt(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
