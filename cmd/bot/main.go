// Package main contains the entrypoint for the HuddleBot application.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/averol/huddlebot/internal/api"
	"github.com/averol/huddlebot/internal/bot"
	"github.com/averol/huddlebot/internal/bot/handlers"
	"github.com/averol/huddlebot/internal/bot/tasks"
	"github.com/averol/huddlebot/internal/cache"
	"github.com/averol/huddlebot/internal/config"
	"github.com/averol/huddlebot/internal/database"
	"github.com/averol/huddlebot/internal/dialog"
	"github.com/averol/huddlebot/internal/graph"
	"github.com/averol/huddlebot/internal/logger"
	"github.com/averol/huddlebot/internal/teams"
	"github.com/averol/huddlebot/internal/templates"
)

// conversationCacheTTL bounds how long a cached conversation record is
// trusted before it reloads from storage.
const conversationCacheTTL = time.Hour

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes all application components, starts the orchestrator, and
// returns an exit code (0 for success, 1 for failure).
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.New(cfg.Log.Level, cfg.Log.JSON)
	slog.SetDefault(log)
	log.Info("Logger initialized", "level", cfg.Log.Level, "json", cfg.Log.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to open database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	cred, err := teams.NewBotCredential(cfg.Bot.AppID, cfg.Bot.AppPassword, cfg.Bot.TenantID)
	if err != nil {
		log.Error("Failed to create bot credential", "error", err)
		return 1
	}
	connector := teams.NewConnector(cred, cfg.Bot.SendTimeout, log)
	adapter := teams.NewAdapter(log, teams.AdapterOptions{
		Connector:     connector,
		Validator:     teams.NewTokenValidator(cfg.Bot.AppID, log),
		VerifyInbound: cfg.Bot.VerifyInbound,
		TenantID:      cfg.Bot.TenantID,
	})

	graphClient, err := graph.NewClient(cfg.Graph, log)
	if err != nil {
		log.Error("Failed to initialize Graph client", "error", err)
		return 1
	}

	conversations := cache.New(store, conversationCacheTTL, log)
	tplService := templates.NewService(store, log)
	pending := templates.NewPendingCardLookup(store, 0, log)
	// Teams addresses the bot as "28:" + app id.
	botAccount := teams.ChannelAccount{ID: "28:" + cfg.Bot.AppID}
	queue := templates.NewQueue(cfg.Batch, store, conversations, connector, tplService, pending, botAccount, log)

	dialogs := dialog.NewSet(
		dialog.NewTextPrompt(dialog.TextPromptID),
		dialog.NewChoicePrompt(dialog.ChoicePromptID),
		dialog.NewMainDialog(dialog.MainDialogDeps{
			Messages:  cfg.Messages,
			Templates: tplService,
			Pending:   pending,
			Graph:     graphClient,
			Logger:    log,
		}),
	)

	handlers.RegisterAll(adapter, handlers.HandlerDeps{
		Logger:        log,
		Config:        cfg,
		Store:         store,
		Conversations: conversations,
		Dialogs:       dialogs,
		Pending:       pending,
	})

	activityMux := http.NewServeMux()
	activityMux.Handle("/api/messages", adapter)

	auth := api.NewAuthenticator(cfg.HTTP,
		teams.NewAADTokenValidator(cfg.Bot.AppID, cfg.Bot.TenantID, log), log)
	apiServer := api.NewServer(log, cfg.HTTP, auth, store, tplService, queue, graphClient)

	taskMap := tasks.RegisterAllTasks(tasks.TaskDeps{
		Logger:        log,
		Store:         store,
		Conversations: conversations,
		Queue:         queue,
		Pending:       pending,
	})
	sched, err := bot.NewScheduler(log, &cfg.Scheduler, taskMap)
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	app := bot.NewBot(log, cfg, activityMux, apiServer.Router(), queue, sched)

	log.Info("Starting HuddleBot...")
	runErr := app.Run(ctx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Bot stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Bot stopped gracefully.")
	time.Sleep(time.Second)
	return 0
}
