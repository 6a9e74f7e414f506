package service

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/TraceLab/internal/domain"
	"github.com/Strob0t/TraceLab/internal/domain/event"
	"github.com/Strob0t/TraceLab/internal/domain/taxonomy"
	"github.com/Strob0t/TraceLab/internal/port/messagequeue"
)

const testTime = "2026-03-01T10:00:00Z"

func blockFields(user, category, action string) event.Fields {
	return event.Fields{
		"user":       user,
		"experiment": "1",
		"time":       testTime,
		"type":       category,
		"event":      action,
	}
}

func TestIngest_DragEndDragStoresAndCounts(t *testing.T) {
	h := newHarness()
	h.registry.Enroll(1, 42)
	ctx := context.Background()

	fields := blockFields("42", "DRAG", "ENDDRAG")
	fields["metadata"] = ""
	fields["xml"] = ""

	res := h.svc.Ingest(ctx, taxonomy.KindBlock, fields)
	if res.Outcome != OutcomeStored {
		t.Fatalf("expected stored, got %+v", res)
	}
	if res.Seq <= 0 {
		t.Fatalf("expected positive seq, got %d", res.Seq)
	}

	sum, err := h.counter.CountsFor(ctx, 1, 42)
	if err != nil {
		t.Fatal(err)
	}
	if got := sum.Of(mustAction(taxonomy.KindBlock, "ENDDRAG")); got != 1 {
		t.Fatalf("expected ENDDRAG count 1, got %d", got)
	}

	events, err := h.store.LoadEvents(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 stored event, got %d", len(events))
	}
	if b := events[0].Block; b == nil || b.Metadata != nil || b.XML != nil {
		t.Fatalf("empty optional fields must be stored as absent, got %+v", b)
	}
	if len(h.notifier.seqs) != 1 || h.notifier.seqs[0] != res.Seq {
		t.Fatalf("expected notification for seq %d, got %v", res.Seq, h.notifier.seqs)
	}
	if h.metrics.accepted["block"] != 1 {
		t.Fatalf("expected accepted metric, got %v", h.metrics.accepted)
	}
}

func TestIngest_NonNumericParticipantHasNoSideEffects(t *testing.T) {
	h := newHarness()
	h.registry.AllowAll()
	ctx := context.Background()

	res := h.svc.Ingest(ctx, taxonomy.KindBlock, blockFields("abc", "DRAG", "ENDDRAG"))
	if res.Outcome != OutcomeMalformed {
		t.Fatalf("expected malformed, got %+v", res)
	}
	if res.Reject == nil || res.Reject.Reason != event.ReasonInvalidID || res.Reject.Field != "user" {
		t.Fatalf("unexpected reject %+v", res.Reject)
	}
	if h.recorder.callCount() != 0 {
		t.Fatalf("recorder must not be called, got %d calls", h.recorder.callCount())
	}
	counts, _ := h.counter.CountsForExperiment(ctx, 1)
	if len(counts) != 0 {
		t.Fatalf("expected no counts, got %+v", counts)
	}
	if h.metrics.rejected[string(event.ReasonInvalidID)] != 1 {
		t.Fatalf("expected rejected metric, got %v", h.metrics.rejected)
	}
}

func TestIngest_ResourceUnknownWithEmptyName(t *testing.T) {
	h := newHarness()
	h.registry.Enroll(1, 7)
	ctx := context.Background()

	res := h.svc.Ingest(ctx, taxonomy.KindResource, event.Fields{
		"user": "7", "experiment": "1", "time": testTime,
		"type": "ADD", "event": "ADD_COSTUME",
		"name": "", "libraryResource": "UNKNOWN",
	})
	if res.Outcome != OutcomeStored {
		t.Fatalf("expected stored, got %+v", res)
	}
	events, _ := h.store.LoadEvents(ctx, 1, taxonomy.KindResource)
	if len(events) != 1 {
		t.Fatalf("expected 1 resource event, got %d", len(events))
	}
	r := events[0].Resource
	if r == nil || r.Name != nil || r.Library != event.LibraryUnknown {
		t.Fatalf("unexpected resource attrs %+v", r)
	}
}

func TestIngest_MalformedNeverReachesStore(t *testing.T) {
	tests := []struct {
		name   string
		kind   taxonomy.Kind
		mutate func(event.Fields)
		reason event.Reason
	}{
		{"illegal pair", taxonomy.KindBlock, func(f event.Fields) { f["type"] = "MOVE"; f["event"] = "ENDDRAG" }, event.ReasonIllegalPair},
		{"unknown action", taxonomy.KindBlock, func(f event.Fields) { f["event"] = "TELEPORT" }, event.ReasonUnknownAction},
		{"unknown category", taxonomy.KindBlock, func(f event.Fields) { f["type"] = "JUMP" }, event.ReasonUnknownCategory},
		{"bad time", taxonomy.KindBlock, func(f event.Fields) { f["time"] = "yesterday" }, event.ReasonInvalidTime},
		{"zero experiment", taxonomy.KindBlock, func(f event.Fields) { f["experiment"] = "0" }, event.ReasonInvalidID},
		{"missing user", taxonomy.KindBlock, func(f event.Fields) { delete(f, "user") }, event.ReasonMissingField},
		{"block action on click", taxonomy.KindClick, func(f event.Fields) { f["type"] = "ICON" }, event.ReasonUnknownAction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.registry.AllowAll()
			f := blockFields("1", "DRAG", "ENDDRAG")
			tt.mutate(f)

			res := h.svc.Ingest(context.Background(), tt.kind, f)
			if res.Outcome != OutcomeMalformed {
				t.Fatalf("expected malformed, got %+v", res)
			}
			if res.Reject.Reason != tt.reason {
				t.Fatalf("expected reason %s, got %s", tt.reason, res.Reject.Reason)
			}
			if h.recorder.callCount() != 0 {
				t.Fatal("recorder must not be called for malformed input")
			}
		})
	}
}

func TestIngest_InactiveParticipant(t *testing.T) {
	h := newHarness()
	h.registry.Enroll(1, 5)
	h.registry.Finish(1, 5)

	res := h.svc.Ingest(context.Background(), taxonomy.KindBlock, blockFields("5", "MOVE", "MOVE"))
	if res.Outcome != OutcomeNoParticipant {
		t.Fatalf("expected no participant, got %+v", res)
	}
	if h.recorder.callCount() != 0 {
		t.Fatal("recorder must not be called for inactive participants")
	}
}

func TestIngest_StorageFailureIsNotStored(t *testing.T) {
	h := newHarness()
	h.registry.AllowAll()
	h.recorder.err = errMockStorage

	res := h.svc.Ingest(context.Background(), taxonomy.KindBlock, blockFields("1", "MOVE", "MOVE"))
	if res.Outcome != OutcomeNotStored {
		t.Fatalf("expected not stored, got %+v", res)
	}
	if !errors.Is(res.Err, errMockStorage) {
		t.Fatalf("expected storage error, got %v", res.Err)
	}
	if len(h.notifier.seqs) != 0 {
		t.Fatal("failed records must not be announced")
	}
	if h.metrics.lost["block"] != 1 {
		t.Fatalf("expected not-stored metric, got %v", h.metrics.lost)
	}
}

func TestIngest_RegistryFailureIsNotStored(t *testing.T) {
	h := newHarness()
	svc := NewIngestService(failingRegistry{}, h.recorder, h.files, nil, nil)

	res := svc.Ingest(context.Background(), taxonomy.KindBlock, blockFields("1", "MOVE", "MOVE"))
	if res.Outcome != OutcomeNotStored {
		t.Fatalf("expected not stored, got %+v", res)
	}
	if h.recorder.callCount() != 0 {
		t.Fatal("recorder must not be called when the registry is unavailable")
	}
}

func TestIngest_StoreReferentialFailureForgetsParticipant(t *testing.T) {
	h := newHarness()
	reg := &forgettingRegistry{}
	h.recorder.err = domain.ErrNoParticipant
	svc := NewIngestService(reg, h.recorder, h.files, nil, nil)

	res := svc.Ingest(context.Background(), taxonomy.KindBlock, blockFields("9", "MOVE", "MOVE"))
	if res.Outcome != OutcomeNoParticipant {
		t.Fatalf("expected no participant, got %+v", res)
	}
	if len(reg.forgotten) != 1 || reg.forgotten[0] != "participant.1.9" {
		t.Fatalf("expected cached answer to be dropped, got %v", reg.forgotten)
	}
}

func TestIngest_FinishedParticipantRefusedDespiteCachedAnswer(t *testing.T) {
	h := newHarness()
	h.registry.Enroll(1, 1)
	cached := NewCachedRegistry(h.registry, newMapCache(), 30*time.Second)
	svc := NewIngestService(cached, h.recorder, h.files, nil, nil)
	ctx := context.Background()

	if res := svc.Ingest(ctx, taxonomy.KindBlock, blockFields("1", "MOVE", "MOVE")); res.Outcome != OutcomeStored {
		t.Fatalf("expected first event stored, got %+v", res)
	}
	h.registry.Finish(1, 1)

	if res := svc.Ingest(ctx, taxonomy.KindBlock, blockFields("1", "MOVE", "MOVE")); res.Outcome != OutcomeNoParticipant {
		t.Fatalf("expected no participant after finish, got %+v", res)
	}
	if res := svc.IngestFile(ctx, StreamZip, event.Fields{
		"user": "1", "experiment": "1", "time": testTime, "name": "project.sb3", "zip": "UEsDBA==",
	}); res.Outcome != OutcomeNoParticipant {
		t.Fatalf("expected file refused after finish, got %+v", res)
	}

	sum, err := h.counter.CountsFor(ctx, 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got := sum.Of(mustAction(taxonomy.KindBlock, "MOVE")); got != 1 {
		t.Fatalf("expected only the first event counted, got %d", got)
	}
	if active, _ := cached.IsActive(ctx, 1, 1); active {
		t.Fatal("stale cached answer must be dropped")
	}
}

func TestIngest_CountsAfterMixedAppends(t *testing.T) {
	h := newHarness()
	h.registry.Enroll(1, 3)
	ctx := context.Background()

	const n, m = 7, 4
	for range n {
		h.svc.Ingest(ctx, taxonomy.KindBlock, blockFields("3", "MOVE", "MOVE"))
	}
	for range m {
		h.svc.Ingest(ctx, taxonomy.KindBlock, blockFields("3", "CREATE", "VAR_CREATE_LOCAL"))
	}

	sum, err := h.counter.CountsFor(ctx, 1, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(sum.ByKind[taxonomy.KindBlock]) != 2 {
		t.Fatalf("expected exactly two block tallies, got %+v", sum.ByKind[taxonomy.KindBlock])
	}
	if got := sum.Of(mustAction(taxonomy.KindBlock, "MOVE")); got != n {
		t.Fatalf("MOVE = %d, want %d", got, n)
	}
	if got := sum.Of(mustAction(taxonomy.KindBlock, "VAR_CREATE_LOCAL")); got != m {
		t.Fatalf("VAR_CREATE_LOCAL = %d, want %d", got, m)
	}
}

func TestIngest_ConcurrentSameKey(t *testing.T) {
	h := newHarness()
	h.registry.Enroll(1, 2)
	ctx := context.Background()

	const n = 200
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res := h.svc.Ingest(ctx, taxonomy.KindClick, event.Fields{
				"user": "2", "experiment": "1", "time": testTime, "type": "BUTTON", "event": "STEP_OVER",
			}); res.Outcome != OutcomeStored {
				t.Errorf("expected stored, got %+v", res)
			}
		}()
	}
	wg.Wait()

	sum, _ := h.counter.CountsFor(ctx, 1, 2)
	if got := sum.Of(mustAction(taxonomy.KindClick, "STEP_OVER")); got != n {
		t.Fatalf("expected %d, got %d", n, got)
	}
}

func TestIngestJSON(t *testing.T) {
	h := newHarness()
	h.registry.AllowAll()
	ctx := context.Background()

	res := h.svc.IngestJSON(ctx, Stream(taxonomy.KindQuestion),
		[]byte(`{"user":4,"experiment":1,"time":"`+testTime+`","type":"QUESTION","event":"RATE","feedback":5}`))
	if res.Outcome != OutcomeStored {
		t.Fatalf("expected stored, got %+v", res)
	}

	res = h.svc.IngestJSON(ctx, Stream(taxonomy.KindBlock), []byte(`[1,2,3]`))
	if res.Outcome != OutcomeMalformed || res.Reject.Reason != event.ReasonInvalidPayload {
		t.Fatalf("expected invalid payload, got %+v", res)
	}
}

func TestIngestFile(t *testing.T) {
	h := newHarness()
	h.registry.Enroll(1, 8)
	ctx := context.Background()
	content := base64.StdEncoding.EncodeToString([]byte("PK\x03\x04"))

	res := h.svc.IngestFile(ctx, StreamZip, event.Fields{
		"user": "8", "experiment": "1", "time": testTime, "name": "project.sb3", "zip": content,
	})
	if res.Outcome != OutcomeStored {
		t.Fatalf("expected stored, got %+v", res)
	}
	files, _ := h.store.LoadFiles(ctx, 1)
	if len(files) != 1 || !files[0].IsZip || string(files[0].Content) != "PK\x03\x04" {
		t.Fatalf("unexpected files %+v", files)
	}

	res = h.svc.IngestFile(ctx, StreamFile, event.Fields{
		"user": "8", "experiment": "1", "time": testTime, "name": "notes.txt", "file": "%%%",
	})
	if res.Outcome != OutcomeMalformed {
		t.Fatalf("expected malformed base64 to be rejected, got %+v", res)
	}
	if h.files.calls != 1 {
		t.Fatalf("expected one file append, got %d", h.files.calls)
	}
	counts, _ := h.counter.CountsForExperiment(ctx, 1)
	if len(counts) != 0 {
		t.Fatal("files must not be counted")
	}
}

func TestStartSubscribers(t *testing.T) {
	h := newHarness()
	h.registry.AllowAll()
	q := newMockQueue()

	cancels, err := h.svc.StartSubscribers(context.Background(), q)
	if err != nil {
		t.Fatal(err)
	}
	if len(cancels) != 1 {
		t.Fatalf("expected one subscription, got %d", len(cancels))
	}
	handler, ok := q.handlers[messagequeue.SubjectIngest+".*"]
	if !ok {
		t.Fatalf("expected wildcard ingest subscription, got %v", q.handlers)
	}

	payload := []byte(`{"user":"1","experiment":"1","time":"` + testTime + `","type":"ICON","event":"GREENFLAG"}`)
	if err := handler(context.Background(), messagequeue.IngestSubject("click"), payload); err != nil {
		t.Fatalf("handler must ack, got %v", err)
	}
	if err := handler(context.Background(), messagequeue.IngestSubject("gesture"), payload); err != nil {
		t.Fatalf("unknown streams must be acked, got %v", err)
	}
	if err := handler(context.Background(), messagequeue.IngestSubject("block"), []byte(`{}`)); err != nil {
		t.Fatalf("malformed payloads must be acked, got %v", err)
	}

	sum, _ := h.counter.CountsFor(context.Background(), 1, 1)
	if got := sum.Of(mustAction(taxonomy.KindClick, "GREENFLAG")); got != 1 {
		t.Fatalf("expected click GREENFLAG 1, got %d", got)
	}
	if got := sum.Total(taxonomy.KindBlock); got != 0 {
		t.Fatalf("expected no block counts, got %d", got)
	}
}

func TestParseStream(t *testing.T) {
	for _, s := range Streams() {
		got, ok := ParseStream(string(s))
		if !ok || got != s {
			t.Errorf("ParseStream(%q) = %q, %v", s, got, ok)
		}
	}
	if got, ok := ParseStream("Block"); !ok || got != Stream(taxonomy.KindBlock) {
		t.Errorf("expected case-insensitive match, got %q, %v", got, ok)
	}
	if _, ok := ParseStream("gesture"); ok {
		t.Error("expected unknown stream to be rejected")
	}
	if len(Streams()) != 7 {
		t.Errorf("expected 7 streams, got %d", len(Streams()))
	}
}
