// Package outbox relays events written inside ledger units to the broker.
// Delivery is at-least-once; the broker drops retries by event id.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/events"
	"github.com/afolabiokebiorun-blip/glowtek-pay-admin/internal/common/metrics"
)

// Config holds relay configuration
type Config struct {
	Interval    time.Duration `envconfig:"OUTBOX_INTERVAL" default:"2s"`
	BatchSize   int           `envconfig:"OUTBOX_BATCH_SIZE" default:"100"`
	MaxAttempts int           `envconfig:"OUTBOX_MAX_ATTEMPTS" default:"20"`
}

// Store reads and settles outbox rows
type Store interface {
	// Pending returns unpublished rows below maxAttempts, oldest first.
	Pending(ctx context.Context, limit, maxAttempts int) ([]events.OutboxEntry, error)
	MarkPublished(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, reason string) error
	// Backlog counts unpublished rows.
	Backlog(ctx context.Context) (int, error)
}

// Relay publishes pending outbox rows
type Relay struct {
	store     Store
	publisher events.Publisher
	config    Config
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewRelay creates a relay
func NewRelay(store Store, publisher events.Publisher, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 20
	}
	return &Relay{
		store:     store,
		publisher: publisher,
		config:    cfg,
		metrics:   m,
		logger:    logger,
	}
}

// Run relays until ctx is done
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.logger.Info("outbox relay started", "interval", r.config.Interval)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return
		case <-ticker.C:
			for {
				published, _, err := r.Pass(ctx)
				if err != nil {
					r.logger.Error("outbox pass failed", "error", err)
					break
				}
				// A full batch means more rows are probably waiting.
				if published < r.config.BatchSize || ctx.Err() != nil {
					break
				}
			}
		}
	}
}

// Pass publishes one batch. A row that fails to publish stays pending with
// its attempt counter raised.
func (r *Relay) Pass(ctx context.Context) (published, failed int, err error) {
	batch, err := r.store.Pending(ctx, r.config.BatchSize, r.config.MaxAttempts)
	if err != nil {
		return 0, 0, fmt.Errorf("reading outbox: %w", err)
	}

	for _, entry := range batch {
		if err := r.publish(ctx, entry); err != nil {
			failed++
			r.logger.Warn("outbox publish failed",
				"event_id", entry.EventID,
				"type", entry.EventType,
				"attempts", entry.Attempts+1,
				"error", err,
			)
			if err := r.store.MarkFailed(ctx, entry.ID, err.Error()); err != nil {
				return published, failed, fmt.Errorf("marking outbox row failed: %w", err)
			}
			continue
		}
		if err := r.store.MarkPublished(ctx, entry.ID); err != nil {
			return published, failed, fmt.Errorf("marking outbox row published: %w", err)
		}
		published++
	}

	backlog, err := r.store.Backlog(ctx)
	if err != nil {
		r.logger.Warn("counting outbox backlog", "error", err)
	}
	r.metrics.OutboxPass(published, failed, backlog)
	return published, failed, nil
}

func (r *Relay) publish(ctx context.Context, entry events.OutboxEntry) error {
	var evt events.Event
	if err := json.Unmarshal(entry.Payload, &evt); err != nil {
		return fmt.Errorf("decoding outbox payload: %w", err)
	}
	return r.publisher.Publish(ctx, &evt)
}
