package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	tlotel "github.com/Strob0t/TraceLab/internal/adapter/otel"
	"github.com/Strob0t/TraceLab/internal/domain"
	"github.com/Strob0t/TraceLab/internal/domain/event"
	"github.com/Strob0t/TraceLab/internal/domain/taxonomy"
	"github.com/Strob0t/TraceLab/internal/port/eventstore"
	"github.com/Strob0t/TraceLab/internal/port/messagequeue"
	"github.com/Strob0t/TraceLab/internal/port/participant"
)

// Stream names one ingestion entry point: a telemetry kind or one of the
// file streams.
type Stream string

// File streams. Kind streams use the kind name.
const (
	StreamFile Stream = "file"
	StreamZip  Stream = "zip"
)

// Streams lists every ingestion entry point.
func Streams() []Stream {
	out := make([]Stream, 0, len(taxonomy.Kinds())+2)
	for _, k := range taxonomy.Kinds() {
		out = append(out, Stream(k))
	}
	return append(out, StreamFile, StreamZip)
}

// ParseStream resolves an entry point name.
func ParseStream(raw string) (Stream, bool) {
	s := Stream(strings.ToLower(raw))
	if s == StreamFile || s == StreamZip || taxonomy.Kind(s).Valid() {
		return s, true
	}
	return "", false
}

// Outcome is the discriminated result of one submission. Ingestion callers
// never see it; it drives logging, metrics and tests.
type Outcome string

const (
	OutcomeStored        Outcome = "stored"
	OutcomeMalformed     Outcome = "malformed"
	OutcomeNoParticipant Outcome = "no_participant"
	OutcomeNotStored     Outcome = "not_stored"
)

// Result carries the outcome of one submission and its detail.
type Result struct {
	Outcome Outcome
	Seq     int64         // set when stored
	Reject  *event.Reject // set when malformed
	Err     error         // set when not stored
}

// IngestMetrics receives ingestion outcomes.
type IngestMetrics interface {
	Accepted(ctx context.Context, kind string)
	Rejected(ctx context.Context, kind, reason string)
	NotStored(ctx context.Context, kind string)
}

// RecordedNotifier is told about every stored record.
type RecordedNotifier interface {
	Recorded(ctx context.Context, seq int64, rec *event.Record)
}

// FileAppender persists uploaded files.
type FileAppender interface {
	AppendFile(ctx context.Context, f *event.File) (int64, error)
}

// participantForgetter is implemented by registries that cache answers.
type participantForgetter interface {
	Forget(ctx context.Context, experiment, user int64)
}

// IngestService validates telemetry submissions and records the valid ones.
type IngestService struct {
	registry participant.Registry
	recorder eventstore.Recorder
	files    FileAppender
	notifier RecordedNotifier
	metrics  IngestMetrics
}

// NewIngestService creates an IngestService. notifier and metrics may be nil.
func NewIngestService(registry participant.Registry, recorder eventstore.Recorder, files FileAppender, notifier RecordedNotifier, metrics IngestMetrics) *IngestService {
	return &IngestService{
		registry: registry,
		recorder: recorder,
		files:    files,
		notifier: notifier,
		metrics:  metrics,
	}
}

// Ingest classifies a field map submitted on the given kind's entry point
// and, when it is well formed and the participant is active, stores it and
// bumps its action counter as one unit.
func (s *IngestService) Ingest(ctx context.Context, kind taxonomy.Kind, fields event.Fields) Result {
	ctx, span := tlotel.StartIngestSpan(ctx, string(kind), "fields")
	defer span.End()

	res := s.ingest(ctx, kind, fields)
	span.SetAttributes(attribute.String("telemetry.outcome", string(res.Outcome)))
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, "not stored")
	}
	return res
}

func (s *IngestService) ingest(ctx context.Context, kind taxonomy.Kind, fields event.Fields) Result {
	rec, rej := event.Parse(kind, fields)
	if rej != nil {
		return s.malformed(ctx, string(kind), rej)
	}

	if res, ok := s.checkParticipant(ctx, string(kind), rec.Experiment, rec.Participant); !ok {
		return res
	}

	seq, err := s.recorder.Record(ctx, rec)
	if err != nil {
		return s.storeFailed(ctx, string(kind), rec.Experiment, rec.Participant, err)
	}

	if s.metrics != nil {
		s.metrics.Accepted(ctx, string(kind))
	}
	slog.DebugContext(ctx, "telemetry stored",
		"seq", seq, "kind", kind, "experiment", rec.Experiment, "user", rec.Participant,
		"category", rec.Category.Name, "event", rec.Action.Name)
	if s.notifier != nil {
		s.notifier.Recorded(ctx, seq, rec)
	}
	return Result{Outcome: OutcomeStored, Seq: seq}
}

// IngestFile classifies and stores an uploaded file or project archive.
// Files are not counted.
func (s *IngestService) IngestFile(ctx context.Context, stream Stream, fields event.Fields) Result {
	ctx, span := tlotel.StartIngestSpan(ctx, string(stream), "fields")
	defer span.End()

	parse := event.ParseFile
	if stream == StreamZip {
		parse = event.ParseZip
	}
	f, rej := parse(fields)
	if rej != nil {
		return s.malformed(ctx, string(stream), rej)
	}
	if res, ok := s.checkParticipant(ctx, string(stream), f.Experiment, f.Participant); !ok {
		return res
	}

	seq, err := s.files.AppendFile(ctx, f)
	if err != nil {
		span.RecordError(err)
		return s.storeFailed(ctx, string(stream), f.Experiment, f.Participant, err)
	}
	if s.metrics != nil {
		s.metrics.Accepted(ctx, string(stream))
	}
	slog.DebugContext(ctx, "file stored", "seq", seq, "zip", f.IsZip, "name", f.Name,
		"bytes", len(f.Content), "experiment", f.Experiment, "user", f.Participant)
	return Result{Outcome: OutcomeStored, Seq: seq}
}

// IngestJSON decodes a JSON object payload and routes it to the stream's
// entry point. It is the shared path for HTTP and queue ingestion.
func (s *IngestService) IngestJSON(ctx context.Context, stream Stream, data []byte) Result {
	fields, err := event.FieldsFromJSON(data)
	if err != nil {
		return s.malformed(ctx, string(stream), &event.Reject{
			Reason: event.ReasonInvalidPayload,
			Detail: err.Error(),
		})
	}
	return s.IngestFields(ctx, stream, fields)
}

// IngestFields routes an already decoded field map to the stream's entry point.
func (s *IngestService) IngestFields(ctx context.Context, stream Stream, fields event.Fields) Result {
	if stream == StreamFile || stream == StreamZip {
		return s.IngestFile(ctx, stream, fields)
	}
	return s.Ingest(ctx, taxonomy.Kind(stream), fields)
}

// StartSubscribers consumes telemetry.ingest.<stream> messages. Every
// message is acknowledged whatever its outcome, like the HTTP boundary.
func (s *IngestService) StartSubscribers(ctx context.Context, queue messagequeue.Queue) ([]func(), error) {
	cancel, err := queue.Subscribe(ctx, messagequeue.SubjectIngest+".*", func(msgCtx context.Context, subject string, data []byte) error {
		name := subject[strings.LastIndexByte(subject, '.')+1:]
		stream, ok := ParseStream(name)
		if !ok {
			slog.WarnContext(msgCtx, "telemetry on unknown stream dropped", "subject", subject)
			return nil
		}
		s.IngestJSON(msgCtx, stream, data)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", messagequeue.SubjectIngest, err)
	}
	return []func(){cancel}, nil
}

func (s *IngestService) checkParticipant(ctx context.Context, stream string, experiment, user int64) (Result, bool) {
	active, err := s.registry.IsActive(ctx, experiment, user)
	if err != nil {
		return s.storeFailed(ctx, stream, experiment, user, err), false
	}
	if !active {
		return s.noParticipant(ctx, stream, experiment, user), false
	}
	return Result{}, true
}

func (s *IngestService) malformed(ctx context.Context, stream string, rej *event.Reject) Result {
	slog.WarnContext(ctx, "malformed telemetry dropped",
		"stream", stream, "reason", rej.Reason, "field", rej.Field, "detail", rej.Detail)
	if s.metrics != nil {
		s.metrics.Rejected(ctx, stream, string(rej.Reason))
	}
	return Result{Outcome: OutcomeMalformed, Reject: rej}
}

func (s *IngestService) noParticipant(ctx context.Context, stream string, experiment, user int64) Result {
	slog.WarnContext(ctx, "telemetry from inactive participant dropped",
		"stream", stream, "experiment", experiment, "user", user)
	if s.metrics != nil {
		s.metrics.Rejected(ctx, stream, string(OutcomeNoParticipant))
	}
	return Result{Outcome: OutcomeNoParticipant}
}

func (s *IngestService) storeFailed(ctx context.Context, stream string, experiment, user int64, err error) Result {
	// The registry said active but the store disagreed: the cached answer is stale.
	if errors.Is(err, domain.ErrNoParticipant) {
		if f, ok := s.registry.(participantForgetter); ok {
			f.Forget(ctx, experiment, user)
		}
		return s.noParticipant(ctx, stream, experiment, user)
	}
	slog.ErrorContext(ctx, "telemetry not stored",
		"stream", stream, "experiment", experiment, "user", user, "error", err)
	if s.metrics != nil {
		s.metrics.NotStored(ctx, stream)
	}
	return Result{Outcome: OutcomeNotStored, Err: err}
}
