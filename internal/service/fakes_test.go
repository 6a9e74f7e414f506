package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Strob0t/TraceLab/internal/adapter/memory"
	"github.com/Strob0t/TraceLab/internal/domain/event"
	"github.com/Strob0t/TraceLab/internal/domain/taxonomy"
	"github.com/Strob0t/TraceLab/internal/port/cache"
	"github.com/Strob0t/TraceLab/internal/port/messagequeue"
)

var errMockStorage = errors.New("storage unavailable")

// spyRecorder counts calls and optionally fails them.
type spyRecorder struct {
	mu    sync.Mutex
	next  *memory.Recorder
	err   error
	calls int
}

func (r *spyRecorder) Record(ctx context.Context, rec *event.Record) (int64, error) {
	r.mu.Lock()
	r.calls++
	err := r.err
	r.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return r.next.Record(ctx, rec)
}

func (r *spyRecorder) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// spyFiles counts AppendFile calls.
type spyFiles struct {
	next  FileAppender
	err   error
	calls int
}

func (f *spyFiles) AppendFile(ctx context.Context, file *event.File) (int64, error) {
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return f.next.AppendFile(ctx, file)
}

// failingRegistry always errors.
type failingRegistry struct{}

func (failingRegistry) IsActive(context.Context, int64, int64) (bool, error) {
	return false, errMockStorage
}

// countingRegistry wraps a memory registry and counts lookups.
type countingRegistry struct {
	mu    sync.Mutex
	next  *memory.Registry
	calls int
}

func (r *countingRegistry) IsActive(ctx context.Context, experiment, user int64) (bool, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	return r.next.IsActive(ctx, experiment, user)
}

func (r *countingRegistry) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// forgettingRegistry records Forget calls.
type forgettingRegistry struct {
	forgotten []string
}

func (r *forgettingRegistry) IsActive(context.Context, int64, int64) (bool, error) { return true, nil }
func (r *forgettingRegistry) Forget(_ context.Context, experiment, user int64) {
	r.forgotten = append(r.forgotten, participantKey(experiment, user))
}

// mapCache is a minimal LoadingCache for tests.
type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapCache() *mapCache { return &mapCache{data: make(map[string][]byte)} }

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *mapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *mapCache) GetOrLoad(ctx context.Context, key string, ttl time.Duration, load cache.Loader) ([]byte, error) {
	if v, ok, _ := c.Get(ctx, key); ok {
		return v, nil
	}
	v, err := load(ctx)
	if err != nil {
		return nil, err
	}
	_ = c.Set(ctx, key, v, ttl)
	return v, nil
}

// spyNotifier records notified sequences.
type spyNotifier struct {
	mu   sync.Mutex
	seqs []int64
}

func (n *spyNotifier) Recorded(_ context.Context, seq int64, _ *event.Record) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seqs = append(n.seqs, seq)
}

// spyMetrics tallies outcomes by name.
type spyMetrics struct {
	mu       sync.Mutex
	accepted map[string]int
	rejected map[string]int
	lost     map[string]int
	notify   int
	exports  int
	rows     int
}

func newSpyMetrics() *spyMetrics {
	return &spyMetrics{accepted: map[string]int{}, rejected: map[string]int{}, lost: map[string]int{}}
}

func (m *spyMetrics) Accepted(_ context.Context, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accepted[kind]++
}

func (m *spyMetrics) Rejected(_ context.Context, _ string, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[reason]++
}

func (m *spyMetrics) NotStored(_ context.Context, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lost[kind]++
}

func (m *spyMetrics) NotifyFailed(context.Context, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notify++
}

func (m *spyMetrics) Exported(_ context.Context, _ time.Duration, rows int, _ error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exports++
	m.rows = rows
}

// mockQueue captures publishes and subscription handlers.
type mockQueue struct {
	mu         sync.Mutex
	published  []publishedMsg
	handlers   map[string]messagequeue.Handler
	publishErr error
}

type publishedMsg struct {
	Subject string
	Data    []byte
}

func newMockQueue() *mockQueue { return &mockQueue{handlers: map[string]messagequeue.Handler{}} }

func (q *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.publishErr != nil {
		return q.publishErr
	}
	q.published = append(q.published, publishedMsg{Subject: subject, Data: data})
	return nil
}

func (q *mockQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[subject] = h
	return func() {}, nil
}

func (q *mockQueue) Drain() error      { return nil }
func (q *mockQueue) Close() error      { return nil }
func (q *mockQueue) IsConnected() bool { return true }

// mockBroadcaster records broadcasts.
type mockBroadcaster struct {
	mu     sync.Mutex
	events []broadcastedEvent
}

type broadcastedEvent struct {
	Experiment int64
	EventType  string
	Data       any
}

func (b *mockBroadcaster) BroadcastEvent(_ context.Context, experiment int64, eventType string, data any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, broadcastedEvent{Experiment: experiment, EventType: eventType, Data: data})
}

// harness wires an IngestService over the memory adapters.
type harness struct {
	store    *memory.Store
	counter  *memory.Counter
	registry *memory.Registry
	recorder *spyRecorder
	files    *spyFiles
	notifier *spyNotifier
	metrics  *spyMetrics
	svc      *IngestService
}

func newHarness() *harness {
	h := &harness{
		store:    memory.NewStore(),
		counter:  memory.NewCounter(),
		registry: memory.NewRegistry(),
		notifier: &spyNotifier{},
		metrics:  newSpyMetrics(),
	}
	rec := memory.NewRecorder(h.store, h.counter, h.registry)
	h.recorder = &spyRecorder{next: rec}
	h.files = &spyFiles{next: rec}
	h.svc = NewIngestService(h.registry, h.recorder, h.files, h.notifier, h.metrics)
	return h
}

func mustAction(kind taxonomy.Kind, raw string) taxonomy.Action {
	a, err := taxonomy.ParseAction(kind, raw)
	if err != nil {
		panic(err)
	}
	return a
}
