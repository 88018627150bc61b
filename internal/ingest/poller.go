// Package ingest waits for remote knowledge content to finish processing.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultPollInterval is the fixed delay between status lookups.
const DefaultPollInterval = 500 * time.Millisecond

// Remote content statuses. Anything other than completed or failed (including
// an unset status) means processing is still under way.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

var (
	// ErrTimeout is returned when the content did not reach a terminal
	// status within the caller's budget.
	ErrTimeout = errors.New("timeout")
	// ErrFailed is returned when the backend reports the content as failed.
	ErrFailed = errors.New("failed")
)

// StatusSource looks up the remote processing status of a content id.
type StatusSource interface {
	ContentStatus(ctx context.Context, contentID string) (string, error)
}

// Poller polls a StatusSource at a fixed interval until a terminal status.
type Poller struct {
	source   StatusSource
	interval time.Duration
	logger   *slog.Logger
	// OnStatus, when set, observes every status the poller reads.
	OnStatus func(contentID, status string)
}

// NewPoller creates a Poller. If interval is <= 0, it defaults to 500ms.
func NewPoller(source StatusSource, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		source:   source,
		interval: interval,
		logger:   slog.Default(),
	}
}

// Wait blocks until contentID reaches a terminal status or timeout elapses.
// It returns nil on completion, ErrFailed when the backend reports failure,
// ErrTimeout when the budget is spent, or the lookup error itself. A status
// lookup is always attempted at least once, and the timeout is only checked
// after a non-terminal status, so a content that completes on the last
// allowed lookup still succeeds. Cancelling ctx ends the wait early.
func (p *Poller) Wait(ctx context.Context, contentID string, timeout time.Duration) error {
	start := time.Now()
	for {
		status, err := p.source.ContentStatus(ctx, contentID)
		if err != nil {
			return fmt.Errorf("polling content %s: %w", contentID, err)
		}
		if p.OnStatus != nil {
			p.OnStatus(contentID, status)
		}

		switch status {
		case StatusCompleted:
			p.logger.Debug("knowledge content processed", "content_id", contentID, "duration_ms", time.Since(start).Milliseconds())
			return nil
		case StatusFailed:
			p.logger.Warn("knowledge content failed", "content_id", contentID)
			return ErrFailed
		}

		if time.Since(start) >= timeout {
			p.logger.Warn("knowledge content timed out", "content_id", contentID, "status", status, "timeout", timeout)
			return ErrTimeout
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.interval):
		}
	}
}
