package templates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/averol/huddlebot/internal/cache"
	"github.com/averol/huddlebot/internal/config"
	"github.com/averol/huddlebot/internal/database"
	"github.com/averol/huddlebot/internal/teams"
)

// job is one proactive send: a template addressed to a conversation,
// tracked by its delivery row.
type job struct {
	deliveryID     uint
	templateName   string
	conversationID string
}

// Queue is the proactive message batch processor. Producers enqueue
// template/conversation pairs; a background loop drains them in batches
// with bounded concurrency and records the outcome per delivery.
type Queue struct {
	cfg       config.BatchConfig
	store     database.Store
	convs     *cache.ConversationCache
	connector teams.Connector
	service   *Service
	pending   *PendingCardLookup
	bot       teams.ChannelAccount
	logger    *slog.Logger

	jobs chan job

	mu       sync.Mutex
	inFlight map[uint]struct{}
}

// NewQueue creates the batch queue. bot is the bot's own channel account,
// used to open a fresh conversation when a stored one is gone.
func NewQueue(
	cfg config.BatchConfig,
	store database.Store,
	convs *cache.ConversationCache,
	connector teams.Connector,
	service *Service,
	pending *PendingCardLookup,
	bot teams.ChannelAccount,
	logger *slog.Logger,
) *Queue {
	return &Queue{
		cfg:       cfg,
		store:     store,
		convs:     convs,
		connector: connector,
		service:   service,
		pending:   pending,
		bot:       bot,
		logger:    logger.With("component", "batch_queue"),
		jobs:      make(chan job, cfg.QueueSize),
		inFlight:  make(map[uint]struct{}),
	}
}

// Enqueue creates delivery records for the template against every listed
// conversation and queues them for sending. Jobs that don't fit in the
// channel stay queued in storage and are picked up by the drain task.
// Returns the number of deliveries created.
func (q *Queue) Enqueue(ctx context.Context, templateName string, conversationIDs []string) (int, error) {
	if templateName == "" {
		return 0, fmt.Errorf("template name is required")
	}
	if _, err := q.store.GetTemplateByName(ctx, templateName); err != nil {
		return 0, fmt.Errorf("cannot enqueue template %q: %w", templateName, err)
	}

	created := 0
	for _, convID := range conversationIDs {
		id, err := q.store.CreateDelivery(ctx, &database.Delivery{
			TemplateName:   templateName,
			ConversationID: convID,
		})
		if err != nil {
			return created, err
		}
		created++
		q.tryPush(job{deliveryID: id, templateName: templateName, conversationID: convID})
	}

	q.logger.InfoContext(ctx, "Enqueued deliveries", "template", templateName, "count", created)
	return created, nil
}

// DrainQueued re-queues deliveries that are still marked queued in storage
// but not currently in flight. Called by the scheduled drain task and once
// at startup to recover work lost to a restart.
func (q *Queue) DrainQueued(ctx context.Context) (int, error) {
	rows, err := q.store.ListDeliveriesByStatus(ctx, database.DeliveryQueued, q.cfg.QueueSize)
	if err != nil {
		return 0, err
	}

	pushed := 0
	for _, d := range rows {
		if q.tryPush(job{deliveryID: d.ID, templateName: d.TemplateName, conversationID: d.ConversationID}) {
			pushed++
		}
	}
	if pushed > 0 {
		q.logger.InfoContext(ctx, "Re-queued stored deliveries", "count", pushed)
	}
	return pushed, nil
}

// tryPush offers a job to the channel without blocking. Duplicate pushes
// for a delivery already in flight are dropped.
func (q *Queue) tryPush(j job) bool {
	q.mu.Lock()
	if _, dup := q.inFlight[j.deliveryID]; dup {
		q.mu.Unlock()
		return false
	}
	q.inFlight[j.deliveryID] = struct{}{}
	q.mu.Unlock()

	select {
	case q.jobs <- j:
		return true
	default:
		q.release(j.deliveryID)
		q.logger.Warn("Batch queue full, leaving delivery queued in storage", "delivery_id", j.deliveryID)
		return false
	}
}

func (q *Queue) release(deliveryID uint) {
	q.mu.Lock()
	delete(q.inFlight, deliveryID)
	q.mu.Unlock()
}

// Run drains the queue until the context is cancelled. Jobs are collected
// into batches of up to BatchSize, flushed on size or FlushInterval, and
// processed with at most Workers concurrent sends.
func (q *Queue) Run(ctx context.Context) error {
	q.logger.Info("Batch processor started",
		"batch_size", q.cfg.BatchSize, "workers", q.cfg.Workers, "flush_interval", q.cfg.FlushInterval)

	ticker := time.NewTicker(q.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]job, 0, q.cfg.BatchSize)

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				// Flush the tail with a bounded grace period.
				flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
				q.flush(flushCtx, batch)
				cancel()
			}
			q.logger.Info("Batch processor stopped")
			return nil
		case j := <-q.jobs:
			batch = append(batch, j)
			if len(batch) >= q.cfg.BatchSize {
				q.flush(ctx, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				q.flush(ctx, batch)
				batch = batch[:0]
			}
		}
	}
}

func (q *Queue) flush(ctx context.Context, batch []job) {
	start := time.Now()
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(q.cfg.Workers)

	for _, j := range batch {
		g.Go(func() error {
			defer q.release(j.deliveryID)
			q.process(gCtx, j)
			return nil
		})
	}
	// Individual job failures are recorded on the delivery row, never
	// propagated, so Wait only returns a context error.
	_ = g.Wait()

	q.logger.Debug("Flushed batch", "size", len(batch), "duration", time.Since(start))
}

// process performs one delivery with retries for transient connector
// failures and records the terminal state.
func (q *Queue) process(ctx context.Context, j job) {
	log := q.logger.With("delivery_id", j.deliveryID, "template", j.templateName, "conversation_id", j.conversationID)

	conv, err := q.convs.Get(ctx, j.conversationID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			q.finish(ctx, j, database.DeliveryAbandoned, 0, "unknown conversation")
			return
		}
		q.finish(ctx, j, database.DeliveryFailed, 0, err.Error())
		return
	}

	correlationID, err := q.pending.Record(ctx, j.conversationID, j.templateName, "")
	if err != nil {
		q.finish(ctx, j, database.DeliveryFailed, 0, err.Error())
		return
	}

	attachment, fallback, err := q.service.Render(ctx, j.templateName, correlationID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			q.finish(ctx, j, database.DeliveryAbandoned, 0, "template deleted")
			return
		}
		q.finish(ctx, j, database.DeliveryFailed, 0, err.Error())
		return
	}

	now := time.Now().UTC()
	activity := &teams.Activity{
		Type:        teams.ActivityMessage,
		Timestamp:   &now,
		ChannelID:   conv.ChannelID,
		Text:        fallback,
		Attachments: []teams.Attachment{attachment},
	}

	attempts := 0
	recreated := false
	for {
		attempts++
		activityID, err := q.connector.SendToConversation(ctx, conv.ServiceURL, conv.ConversationID, activity)
		if err == nil {
			if aerr := q.pending.AttachActivity(ctx, correlationID, activityID); aerr != nil {
				log.WarnContext(ctx, "Failed to attach card activity id", "error", aerr)
			}
			q.finish(ctx, j, database.DeliverySent, attempts, "")
			return
		}

		var connErr *teams.ConnectorError
		if errors.As(err, &connErr) && connErr.StatusCode == http.StatusNotFound && !recreated {
			// The stored conversation is gone; open a fresh one with the
			// user and retry against it.
			recreated = true
			newConv, rerr := q.recreateConversation(ctx, conv)
			if rerr != nil {
				log.WarnContext(ctx, "Failed to recreate conversation", "error", rerr)
				q.finish(ctx, j, database.DeliveryAbandoned, attempts, err.Error())
				return
			}
			log.InfoContext(ctx, "Recreated conversation", "new_conversation_id", newConv.ConversationID)
			conv = newConv
			continue
		}

		transient := errors.As(err, &connErr) && connErr.Transient()
		if !transient {
			log.WarnContext(ctx, "Delivery failed permanently", "error", err, "attempts", attempts)
			q.finish(ctx, j, database.DeliveryAbandoned, attempts, err.Error())
			return
		}
		if attempts >= q.cfg.MaxAttempts {
			log.WarnContext(ctx, "Delivery failed after retries", "error", err, "attempts", attempts)
			q.finish(ctx, j, database.DeliveryFailed, attempts, err.Error())
			return
		}

		log.DebugContext(ctx, "Retrying delivery", "error", err, "attempt", attempts)
		select {
		case <-ctx.Done():
			q.finish(ctx, j, database.DeliveryFailed, attempts, ctx.Err().Error())
			return
		case <-time.After(q.cfg.RetryBackoff):
		}
	}
}

// recreateConversation opens a new one-on-one conversation with the user
// from a stale record and swaps the stored row over to it.
func (q *Queue) recreateConversation(ctx context.Context, old *cache.UserConversation) (*cache.UserConversation, error) {
	user := teams.ChannelAccount{ID: old.UserID, Name: old.UserName, AadObjectID: old.UserAadID}
	newID, err := q.connector.CreateConversation(ctx, old.ServiceURL, old.TenantID, q.bot, user)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	fresh := *old
	fresh.ConversationID = newID
	if err := q.store.UpsertConversation(ctx, &database.Conversation{
		ConversationID: fresh.ConversationID,
		ChannelID:      fresh.ChannelID,
		TenantID:       fresh.TenantID,
		ServiceURL:     fresh.ServiceURL,
		UserID:         fresh.UserID,
		UserAadID:      fresh.UserAadID,
		UserName:       fresh.UserName,
	}); err != nil {
		return nil, err
	}
	if err := q.store.DeleteConversation(ctx, old.ConversationID); err != nil && !errors.Is(err, database.ErrNotFound) {
		q.logger.WarnContext(ctx, "Failed to remove stale conversation",
			"conversation_id", old.ConversationID, "error", err)
	}
	q.convs.Invalidate(old.ConversationID)
	return &fresh, nil
}

func (q *Queue) finish(ctx context.Context, j job, status string, attempts int, lastError string) {
	// Use a detached context so shutdown doesn't lose the terminal state.
	updCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := q.store.UpdateDelivery(updCtx, j.deliveryID, status, attempts, lastError); err != nil {
		q.logger.ErrorContext(ctx, "Failed to record delivery outcome",
			"delivery_id", j.deliveryID, "status", status, "error", err)
	}
}
