package export

import (
	"context"
	"fmt"
	"io"
	"log"
	"runtime"
	"sync/atomic"

	"github.com/dunamismax/imageoptimizer/internal/domain"
	"github.com/dunamismax/imageoptimizer/internal/naming"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

type Transformer interface {
	Transform(ctx context.Context, input []byte, settings domain.TransformSettings) (domain.EncodedImage, error)
}

// FailureMarker records a per-item export failure in the item's preview
// state. The estimator is the only writer of that state.
type FailureMarker interface {
	MarkFailed(itemID string, reason domain.ErrorKind) (uint64, error)
}

// Item is a read-only view of one item handed to the coordinator.
type Item struct {
	ID       string
	Filename string
	Source   []byte
	Settings domain.TransformSettings
}

type Entry struct {
	ItemID   string
	Filename string
	Data     []byte
}

type Failure struct {
	ItemID string           `json:"item_id"`
	Reason domain.ErrorKind `json:"reason"`
	Cause  domain.ErrorKind `json:"cause"`
	Err    error            `json:"-"`
}

type Result struct {
	Entries []Entry
	Failed  []Failure
}

func (r Result) TotalBytes() int {
	total := 0
	for _, e := range r.Entries {
		total += len(e.Data)
	}
	return total
}

type Option func(*Coordinator)

func WithConcurrency(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

func WithFailureMarker(m FailureMarker) Option {
	return func(c *Coordinator) {
		c.marker = m
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

type Coordinator struct {
	transformer Transformer
	concurrency int
	marker      FailureMarker
	logger      *log.Logger
	tracer      trace.Tracer
	running     atomic.Bool
}

func NewCoordinator(transformer Transformer, opts ...Option) *Coordinator {
	c := &Coordinator{
		transformer: transformer,
		concurrency: runtime.NumCPU(),
		logger:      log.New(io.Discard, "", 0),
		tracer:      otel.Tracer("imageoptimizer/export"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) Running() bool {
	return c.running.Load()
}

// Collect transforms every item concurrently and gathers the outcomes in
// input order. One item failing never cancels its siblings. Collect returns
// ErrNoValidFiles when nothing succeeded and ErrExportInProgress when another
// export is still running on this coordinator.
func (c *Coordinator) Collect(ctx context.Context, items []Item) (Result, error) {
	if !c.running.CompareAndSwap(false, true) {
		return Result{}, domain.ErrExportInProgress
	}
	defer c.running.Store(false)

	ctx, span := c.tracer.Start(ctx, "export.collect")
	span.SetAttributes(
		attribute.Int("export.items", len(items)),
		attribute.Int("export.concurrency", c.concurrency),
	)
	defer span.End()

	type outcome struct {
		out domain.EncodedImage
		err error
	}
	outcomes := make([]outcome, len(items))

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, item := range items {
		g.Go(func() error {
			out, err := c.transformer.Transform(ctx, item.Source, item.Settings)
			outcomes[i] = outcome{out: out, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var (
		result Result
		names  []string
	)
	for i, item := range items {
		o := outcomes[i]
		if o.err != nil {
			result.Failed = append(result.Failed, c.fail(item.ID, o.err))
			continue
		}
		result.Entries = append(result.Entries, Entry{ItemID: item.ID, Data: o.out.Data})
		names = append(names, naming.Resolve(item.Filename, item.Settings))
	}
	for i, name := range naming.Disambiguate(names) {
		result.Entries[i].Filename = name
	}

	span.SetAttributes(
		attribute.Int("export.succeeded", len(result.Entries)),
		attribute.Int("export.failed", len(result.Failed)),
	)
	if len(result.Entries) == 0 {
		err := fmt.Errorf("%w: all %d items failed", domain.ErrNoValidFiles, len(items))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(domain.KindNoValidFiles))
		return result, err
	}

	c.logger.Printf("export collected succeeded=%d failed=%d bytes=%d", len(result.Entries), len(result.Failed), result.TotalBytes())
	span.SetStatus(codes.Ok, "collected")
	return result, nil
}

// ExportAll collects items and writes the successful entries as one zip
// archive to w. No bytes are written when Collect fails.
func (c *Coordinator) ExportAll(ctx context.Context, items []Item, w io.Writer) (Result, error) {
	result, err := c.Collect(ctx, items)
	if err != nil {
		return result, err
	}
	if err := WriteArchive(w, result.Entries); err != nil {
		return result, err
	}
	return result, nil
}

func (c *Coordinator) fail(itemID string, cause error) Failure {
	err := fmt.Errorf("%w: item %s: %w", domain.ErrExportFailed, itemID, cause)
	f := Failure{
		ItemID: itemID,
		Reason: domain.KindExportFailed,
		Cause:  domain.KindOf(cause),
		Err:    err,
	}
	c.logger.Printf("export item failed item_id=%s cause=%s err=%v", itemID, f.Cause, cause)

	if c.marker != nil {
		if _, markErr := c.marker.MarkFailed(itemID, domain.KindExportFailed); markErr != nil {
			c.logger.Printf("export failure mark skipped item_id=%s err=%v", itemID, markErr)
		}
	}
	return f
}

func ItemFailures(failed []Failure) []domain.ItemFailure {
	out := make([]domain.ItemFailure, 0, len(failed))
	for _, f := range failed {
		out = append(out, domain.ItemFailure{ItemID: f.ItemID, Reason: f.Reason, Cause: f.Cause})
	}
	return out
}
