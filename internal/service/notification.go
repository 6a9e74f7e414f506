// Package service contains the TraceLab application services.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/Strob0t/TraceLab/internal/adapter/ws"
	"github.com/Strob0t/TraceLab/internal/domain/event"
	"github.com/Strob0t/TraceLab/internal/logger"
	"github.com/Strob0t/TraceLab/internal/port/broadcast"
	"github.com/Strob0t/TraceLab/internal/port/messagequeue"
	"github.com/Strob0t/TraceLab/internal/resilience"
)

// NotifyMetrics receives notification failures.
type NotifyMetrics interface {
	NotifyFailed(ctx context.Context, kind string)
}

// NotificationService announces stored records to downstream consumers:
// the telemetry.recorded.<kind> subject and the live WebSocket feed.
// Both sinks are optional and best effort; a failing sink never affects
// the stored record.
type NotificationService struct {
	queue   messagequeue.Queue
	hub     broadcast.Broadcaster
	breaker *resilience.Breaker
	timeout time.Duration
	metrics NotifyMetrics
}

// NewNotificationService creates a NotificationService. queue, hub and
// breaker may be nil.
func NewNotificationService(queue messagequeue.Queue, hub broadcast.Broadcaster, breaker *resilience.Breaker, timeout time.Duration, metrics NotifyMetrics) *NotificationService {
	return &NotificationService{
		queue:   queue,
		hub:     hub,
		breaker: breaker,
		timeout: timeout,
		metrics: metrics,
	}
}

// Recorded announces that rec was stored under seq.
func (s *NotificationService) Recorded(ctx context.Context, seq int64, rec *event.Record) {
	kind := string(rec.Kind())

	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, rec.Experiment, ws.EventRecorded, ws.RecordedEvent{
			Seq:         seq,
			Experiment:  rec.Experiment,
			Participant: rec.Participant,
			Kind:        kind,
			Category:    rec.Category.Name,
			Action:      rec.Action.Name,
			Time:        rec.OccurredAt,
		})
	}

	if s.queue == nil {
		return
	}
	data, err := json.Marshal(messagequeue.RecordedPayload{
		Seq:        seq,
		Experiment: rec.Experiment,
		User:       rec.Participant,
		Kind:       kind,
		Category:   rec.Category.Name,
		Action:     rec.Action.Name,
		Time:       rec.OccurredAt,
		RequestID:  logger.RequestID(ctx),
	})
	if err != nil {
		slog.ErrorContext(ctx, "marshal recorded payload", "seq", seq, "error", err)
		return
	}

	publish := func(ctx context.Context) error {
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		return s.queue.Publish(ctx, messagequeue.RecordedSubject(kind), data)
	}
	if s.breaker != nil {
		err = s.breaker.ExecuteContext(ctx, publish)
	} else {
		err = publish(ctx)
	}
	if err == nil {
		return
	}

	if s.metrics != nil {
		s.metrics.NotifyFailed(ctx, kind)
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		slog.DebugContext(ctx, "recorded notification skipped, circuit open", "seq", seq)
		return
	}
	slog.WarnContext(ctx, "recorded notification failed", "seq", seq, "kind", kind, "error", err)
}
