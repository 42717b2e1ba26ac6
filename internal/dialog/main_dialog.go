package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/averol/huddlebot/internal/config"
	"github.com/averol/huddlebot/internal/database"
	"github.com/averol/huddlebot/internal/graph"
	"github.com/averol/huddlebot/internal/templates"
)

// Dialog and prompt ids registered in the bot's dialog set.
const (
	MainDialogID   = "main"
	TextPromptID   = "textPrompt"
	ChoicePromptID = "choicePrompt"
)

// mainStateBag is the conversation state bag holding the main dialogue's
// per-conversation record.
const mainStateBag = "mainState"

// Menu choices offered by the main dialogue.
const (
	choiceToken   = "my token"
	choiceCard    = "send card"
	choiceProfile = "my profile"
)

// MainState is the main dialogue's per-conversation record: a single random
// token created on the first turn and kept for the conversation's lifetime.
type MainState struct {
	Token string `json:"token"`
}

// MainDialogDeps carries the services the main dialogue consumes.
type MainDialogDeps struct {
	Messages  config.MessagesConfig
	Templates *templates.Service
	Pending   *templates.PendingCardLookup
	Graph     graph.Client
	Logger    *slog.Logger
}

type mainDialog struct {
	deps MainDialogDeps
	log  *slog.Logger
}

// NewMainDialog builds the bot's root waterfall dialogue: ensure the
// conversation token exists, offer the menu, and dispatch the chosen
// operation.
func NewMainDialog(deps MainDialogDeps) *WaterfallDialog {
	d := &mainDialog{
		deps: deps,
		log:  deps.Logger.With("dialog", MainDialogID),
	}
	return NewWaterfall(MainDialogID,
		d.menuStep,
		d.dispatchStep,
		d.sendCardStep,
	)
}

// menuStep guarantees the conversation token exists and shows the menu.
func (d *mainDialog) menuStep(ctx context.Context, sc *StepContext) (Result, error) {
	var ms MainState
	found, err := sc.State().Get(mainStateBag, &ms)
	if err != nil {
		return Result{}, err
	}
	if !found || ms.Token == "" {
		ms.Token = uuid.NewString()
		if err := sc.State().Set(mainStateBag, ms); err != nil {
			return Result{}, err
		}
		d.log.DebugContext(ctx, "Created conversation token",
			"conversation_id", sc.Turn().Activity.Conversation.ID)
	}

	return sc.Prompt(ctx, ChoicePromptID, PromptOptions{
		Prompt:      d.deps.Messages.MenuPrompt,
		RetryPrompt: d.deps.Messages.UnknownInput,
		Choices:     []string{choiceToken, choiceCard, choiceProfile},
	})
}

// dispatchStep routes the menu choice.
func (d *mainDialog) dispatchStep(ctx context.Context, sc *StepContext) (Result, error) {
	switch sc.InputText() {
	case choiceToken:
		var ms MainState
		if _, err := sc.State().Get(mainStateBag, &ms); err != nil {
			return Result{}, err
		}
		if err := sc.Turn().Sender.SendText(ctx, "Your conversation token is "+ms.Token); err != nil {
			return Result{}, err
		}
		return sc.End(ctx, nil)

	case choiceCard:
		return sc.Prompt(ctx, TextPromptID, PromptOptions{
			Prompt: d.deps.Messages.TemplatePrompt,
		})

	case choiceProfile:
		return d.profile(ctx, sc)

	default:
		if err := sc.Turn().Sender.SendText(ctx, d.deps.Messages.UnknownInput); err != nil {
			return Result{}, err
		}
		return sc.End(ctx, nil)
	}
}

func (d *mainDialog) profile(ctx context.Context, sc *StepContext) (Result, error) {
	user := sc.Turn().User
	if !user.IsAzureAdUserID {
		if err := sc.Turn().Sender.SendText(ctx, d.deps.Messages.NoProfile); err != nil {
			return Result{}, err
		}
		return sc.End(ctx, nil)
	}

	profile, err := d.deps.Graph.GetUser(ctx, user.UserID)
	if err != nil {
		if !errors.Is(err, graph.ErrDisabled) {
			d.log.WarnContext(ctx, "Graph profile lookup failed", "error", err, "user_id", user.UserID)
		}
		if err := sc.Turn().Sender.SendText(ctx, d.deps.Messages.NoProfile); err != nil {
			return Result{}, err
		}
		return sc.End(ctx, nil)
	}

	text := fmt.Sprintf("%s\n%s\n%s", profile.DisplayName, profile.JobTitle, profile.Mail)
	if err := sc.Turn().Sender.SendText(ctx, text); err != nil {
		return Result{}, err
	}
	return sc.End(ctx, nil)
}

// sendCardStep renders the named template and sends it as an Adaptive Card
// with a pending-card correlation id embedded.
func (d *mainDialog) sendCardStep(ctx context.Context, sc *StepContext) (Result, error) {
	name := sc.InputText()
	convID := sc.Turn().Activity.Conversation.ID

	if _, err := d.deps.Templates.Get(ctx, name); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			if err := sc.Turn().Sender.SendText(ctx, d.deps.Messages.NoTemplate); err != nil {
				return Result{}, err
			}
			return sc.End(ctx, nil)
		}
		return Result{}, err
	}

	correlationID, err := d.deps.Pending.Record(ctx, convID, name, "")
	if err != nil {
		return Result{}, err
	}

	attachment, _, err := d.deps.Templates.Render(ctx, name, correlationID)
	if err != nil {
		return Result{}, err
	}
	activityID, err := sc.Turn().Sender.SendCard(ctx, attachment)
	if err != nil {
		return Result{}, err
	}
	if err := d.deps.Pending.AttachActivity(ctx, correlationID, activityID); err != nil {
		// The submit still resolves; it just can't update the card in place.
		d.log.WarnContext(ctx, "Failed to attach card activity id",
			"error", err, "correlation_id", correlationID)
	}
	return sc.End(ctx, nil)
}
