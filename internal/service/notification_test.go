package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/TraceLab/internal/adapter/ws"
	"github.com/Strob0t/TraceLab/internal/domain/event"
	"github.com/Strob0t/TraceLab/internal/domain/taxonomy"
	"github.com/Strob0t/TraceLab/internal/logger"
	"github.com/Strob0t/TraceLab/internal/port/messagequeue"
	"github.com/Strob0t/TraceLab/internal/resilience"
)

func clickRecord(exp, user int64) *event.Record {
	a := mustAction(taxonomy.KindClick, "GREENFLAG")
	c, _ := taxonomy.CategoryOf(a)
	return &event.Record{
		Header: event.Header{
			Experiment: exp, Participant: user,
			OccurredAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
			Category:   c, Action: a,
		},
		Click: &event.ClickAttrs{},
	}
}

func TestNotification_PublishesAndBroadcasts(t *testing.T) {
	q := newMockQueue()
	hub := &mockBroadcaster{}
	svc := NewNotificationService(q, hub, resilience.NewBreaker(3, time.Minute), time.Second, nil)

	ctx := logger.WithRequestID(context.Background(), "req-1")
	svc.Recorded(ctx, 11, clickRecord(2, 3))

	if len(q.published) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(q.published))
	}
	msg := q.published[0]
	if msg.Subject != messagequeue.RecordedSubject("click") {
		t.Fatalf("unexpected subject %s", msg.Subject)
	}
	var p messagequeue.RecordedPayload
	if err := json.Unmarshal(msg.Data, &p); err != nil {
		t.Fatal(err)
	}
	if p.Seq != 11 || p.Experiment != 2 || p.User != 3 || p.Category != "ICON" || p.Action != "GREENFLAG" {
		t.Fatalf("unexpected payload %+v", p)
	}
	if p.RequestID != "req-1" {
		t.Fatalf("expected request id to propagate, got %q", p.RequestID)
	}
	if err := messagequeue.Validate(msg.Subject, msg.Data); err != nil {
		t.Fatalf("payload must satisfy its schema: %v", err)
	}

	if len(hub.events) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(hub.events))
	}
	b := hub.events[0]
	if b.Experiment != 2 || b.EventType != ws.EventRecorded {
		t.Fatalf("unexpected broadcast %+v", b)
	}
	if ev, ok := b.Data.(ws.RecordedEvent); !ok || ev.Seq != 11 || ev.Kind != "click" {
		t.Fatalf("unexpected broadcast payload %+v", b.Data)
	}
}

func TestNotification_FailureOpensBreaker(t *testing.T) {
	q := newMockQueue()
	q.publishErr = errors.New("nats down")
	m := newSpyMetrics()
	br := resilience.NewBreaker(2, time.Minute)
	svc := NewNotificationService(q, nil, br, time.Second, m)

	for i := range 4 {
		svc.Recorded(context.Background(), int64(i+1), clickRecord(1, 1))
	}

	if br.State() != resilience.StateOpen {
		t.Fatalf("expected open breaker, got %s", br.State())
	}
	if m.notify != 4 {
		t.Fatalf("expected every failure counted, got %d", m.notify)
	}
}

func TestNotification_NilSinks(t *testing.T) {
	svc := NewNotificationService(nil, nil, nil, 0, nil)
	svc.Recorded(context.Background(), 1, clickRecord(1, 1))
}
