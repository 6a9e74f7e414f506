package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	tlotel "github.com/Strob0t/TraceLab/internal/adapter/otel"
	"github.com/Strob0t/TraceLab/internal/domain"
	"github.com/Strob0t/TraceLab/internal/domain/event"
	"github.com/Strob0t/TraceLab/internal/domain/eventcount"
	"github.com/Strob0t/TraceLab/internal/domain/taxonomy"
	"github.com/Strob0t/TraceLab/internal/port/counter"
	"github.com/Strob0t/TraceLab/internal/port/eventstore"
)

// ExportHeader is the fixed column layout of the experiment report.
var ExportHeader = []string{
	"participant", "experiment", "section", "seq", "timestamp", "kind", "category", "action",
	"sprite", "metadata", "xml", "json", "resource_name", "hash", "data_format",
	"library_resource", "count",
}

// Report sections, in output order.
const (
	SectionBlockEvent    = "block_event"
	SectionClickEvent    = "click_event"
	SectionResourceEvent = "resource_event"
	SectionBlockCount    = "block_count"
	SectionClickCount    = "click_count"
	SectionResourceCount = "resource_count"
	SectionCodes         = "codes"
)

// exportKinds are the kinds whose raw events and tallies go into the report.
var exportKinds = []taxonomy.Kind{taxonomy.KindBlock, taxonomy.KindClick, taxonomy.KindResource}

// ExportMetrics receives export timings.
type ExportMetrics interface {
	Exported(ctx context.Context, elapsed time.Duration, rows int, err error)
}

// ExportService renders the consolidated CSV report of an experiment.
type ExportService struct {
	store   eventstore.Store
	counts  counter.Aggregator
	timeout time.Duration
	metrics ExportMetrics
}

// NewExportService creates an ExportService. A zero timeout means none;
// metrics may be nil.
func NewExportService(store eventstore.Store, counts counter.Aggregator, timeout time.Duration, metrics ExportMetrics) *ExportService {
	return &ExportService{store: store, counts: counts, timeout: timeout, metrics: metrics}
}

// reportData is everything the report needs, fetched up front.
type reportData struct {
	events []event.Record
	counts []eventcount.Count
	codes  []event.CodesData
}

// Export writes the report of experiment to w. Any read or write failure
// is returned; callers that must not serve partial output should render
// into a buffer.
func (s *ExportService) Export(ctx context.Context, experiment int64, w io.Writer) (err error) {
	if experiment <= 0 {
		return fmt.Errorf("experiment id %d: %w", experiment, domain.ErrValidation)
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	ctx, span := tlotel.StartExportSpan(ctx, experiment)
	defer span.End()

	id := uuid.NewString()
	start := time.Now()
	rows := 0
	defer func() {
		elapsed := time.Since(start)
		if s.metrics != nil {
			s.metrics.Exported(ctx, elapsed, rows, err)
		}
		span.SetAttributes(attribute.Int("export.rows", rows))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "export failed")
			slog.ErrorContext(ctx, "export failed", "export_id", id, "experiment", experiment, "error", err)
			return
		}
		slog.InfoContext(ctx, "export finished", "export_id", id, "experiment", experiment,
			"rows", rows, "duration", elapsed)
	}()

	data, err := s.fetch(ctx, experiment)
	if err != nil {
		return err
	}
	rows, err = writeReport(w, experiment, data)
	return err
}

func (s *ExportService) fetch(ctx context.Context, experiment int64) (*reportData, error) {
	var d reportData
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		events, err := s.store.LoadEvents(gctx, experiment, exportKinds...)
		if err != nil {
			return fmt.Errorf("load events: %w", err)
		}
		d.events = events
		return nil
	})
	g.Go(func() error {
		counts, err := s.counts.CountsForExperiment(gctx, experiment, exportKinds...)
		if err != nil {
			return fmt.Errorf("load counts: %w", err)
		}
		d.counts = counts
		return nil
	})
	g.Go(func() error {
		codesData, err := s.store.CodesData(gctx, experiment)
		if err != nil {
			return fmt.Errorf("load codes data: %w", err)
		}
		d.codes = codesData
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &d, nil
}

// writeReport renders the sections in order and returns the number of
// data rows written.
func writeReport(w io.Writer, experiment int64, d *reportData) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(ExportHeader); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	exp := strconv.FormatInt(experiment, 10)
	rows := 0
	write := func(row []string) error {
		rows++
		return cw.Write(row)
	}

	eventSections := map[taxonomy.Kind]string{
		taxonomy.KindBlock:    SectionBlockEvent,
		taxonomy.KindClick:    SectionClickEvent,
		taxonomy.KindResource: SectionResourceEvent,
	}
	countSections := map[taxonomy.Kind]string{
		taxonomy.KindBlock:    SectionBlockCount,
		taxonomy.KindClick:    SectionClickCount,
		taxonomy.KindResource: SectionResourceCount,
	}

	for _, kind := range exportKinds {
		for i := range d.events {
			rec := &d.events[i]
			if rec.Kind() != kind {
				continue
			}
			if err := write(eventRow(exp, eventSections[kind], rec)); err != nil {
				return rows, fmt.Errorf("write %s: %w", eventSections[kind], err)
			}
		}
	}

	for _, kind := range exportKinds {
		for _, c := range d.counts {
			if c.Action.Kind != kind {
				continue
			}
			if err := write(countRow(exp, countSections[kind], c)); err != nil {
				return rows, fmt.Errorf("write %s: %w", countSections[kind], err)
			}
		}
	}

	for _, c := range d.codes {
		row := make([]string, len(ExportHeader))
		row[0] = strconv.FormatInt(c.Participant, 10)
		row[1] = exp
		row[2] = SectionCodes
		row[16] = strconv.Itoa(c.Count)
		if err := write(row); err != nil {
			return rows, fmt.Errorf("write %s: %w", SectionCodes, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return rows, fmt.Errorf("flush report: %w", err)
	}
	return rows, nil
}

func eventRow(exp, section string, rec *event.Record) []string {
	row := make([]string, len(ExportHeader))
	row[0] = strconv.FormatInt(rec.Participant, 10)
	row[1] = exp
	row[2] = section
	row[3] = strconv.FormatInt(rec.Seq, 10)
	row[4] = rec.OccurredAt.UTC().Format(event.TimeLayout)
	row[5] = string(rec.Kind())
	row[6] = rec.Category.Name
	row[7] = rec.Action.Name
	switch {
	case rec.Block != nil:
		row[8] = deref(rec.Block.Sprite)
		row[9] = deref(rec.Block.Metadata)
		row[10] = deref(rec.Block.XML)
		row[11] = deref(rec.Block.Code)
	case rec.Click != nil:
		row[9] = deref(rec.Click.Metadata)
	case rec.Resource != nil:
		row[12] = deref(rec.Resource.Name)
		row[13] = deref(rec.Resource.Hash)
		row[14] = deref(rec.Resource.DataFormat)
		row[15] = string(rec.Resource.Library)
	}
	return row
}

func countRow(exp, section string, c eventcount.Count) []string {
	row := make([]string, len(ExportHeader))
	row[0] = strconv.FormatInt(c.Participant, 10)
	row[1] = exp
	row[2] = section
	row[5] = string(c.Action.Kind)
	if cat, ok := taxonomy.CategoryOf(c.Action); ok {
		row[6] = cat.Name
	}
	row[7] = c.Action.Name
	row[16] = strconv.FormatInt(c.Count, 10)
	return row
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
