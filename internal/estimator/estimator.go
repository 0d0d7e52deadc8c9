package estimator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/dunamismax/imageoptimizer/internal/domain"
)

const DefaultQuietPeriod = 300 * time.Millisecond

var (
	ErrAlreadyTracked = errors.New("item already tracked")
	ErrClosed         = errors.New("estimator closed")
)

type Transformer interface {
	Transform(ctx context.Context, input []byte, settings domain.TransformSettings) (domain.EncodedImage, error)
}

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseScheduled Phase = "scheduled"
	PhaseRunning   Phase = "running"
	PhaseDone      Phase = "done"
)

// Observer receives lifecycle events after the estimator lock is released.
type Observer interface {
	Started(itemID string, generation uint64)
	Applied(itemID string, state domain.PreviewState)
	Discarded(itemID string, generation, latest uint64)
	Retained(bytes int)
}

type Option func(*Estimator)

func WithQuietPeriod(d time.Duration) Option {
	return func(e *Estimator) {
		if d > 0 {
			e.quiet = d
		}
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(e *Estimator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithObserver(o Observer) Option {
	return func(e *Estimator) {
		if o != nil {
			e.observer = o
		}
	}
}

// Estimator keeps one debounced estimation state machine per item. Each
// mutation issues a new generation; a finished transform is applied only when
// its generation is still the latest issued for that item.
type Estimator struct {
	transformer Transformer
	quiet       time.Duration
	logger      *log.Logger
	observer    Observer

	mu       sync.Mutex
	entries  map[string]*entry
	retained int
	closed   bool
	wg       sync.WaitGroup
}

type entry struct {
	source   []byte
	settings domain.TransformSettings
	latest   uint64
	phase    Phase
	state    domain.PreviewState
	preview  []byte
	format   domain.Format
	timer    *time.Timer
	cancel   context.CancelFunc
}

func New(transformer Transformer, opts ...Option) *Estimator {
	e := &Estimator{
		transformer: transformer,
		quiet:       DefaultQuietPeriod,
		logger:      log.New(io.Discard, "", 0),
		observer:    nopObserver{},
		entries:     make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Estimator) QuietPeriod() time.Duration {
	return e.quiet
}

// Track registers an item in the Idle state. source must not be mutated
// afterwards; it is read concurrently by in-flight transforms.
func (e *Estimator) Track(itemID string, source []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if _, ok := e.entries[itemID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyTracked, itemID)
	}
	e.entries[itemID] = &entry{
		source: source,
		phase:  PhaseIdle,
		state:  domain.IdlePreview(),
	}
	return nil
}

// Schedule records new settings for an item and restarts its quiet-period
// timer. Any pending timer is stopped and any in-flight transform is
// cancelled; its result would be discarded anyway.
func (e *Estimator) Schedule(itemID string, settings domain.TransformSettings) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return 0, ErrClosed
	}
	ent, ok := e.entries[itemID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrItemNotFound, itemID)
	}

	ent.supersede()
	ent.latest++
	generation := ent.latest
	ent.settings = settings
	ent.phase = PhaseScheduled
	ent.state = domain.PendingPreview(generation)
	ent.timer = time.AfterFunc(e.quiet, func() {
		e.run(itemID, generation)
	})
	return generation, nil
}

// MarkFailed records an externally observed failure, such as a failed export
// of the item. It issues a new generation so older results cannot replace it.
func (e *Estimator) MarkFailed(itemID string, reason domain.ErrorKind) (uint64, error) {
	e.mu.Lock()
	ent, ok := e.entries[itemID]
	if !ok {
		e.mu.Unlock()
		return 0, fmt.Errorf("%w: %s", domain.ErrItemNotFound, itemID)
	}

	ent.supersede()
	ent.latest++
	ent.phase = PhaseIdle
	ent.state = domain.FailedPreview(ent.latest, reason)
	state := ent.state
	e.mu.Unlock()

	e.observer.Applied(itemID, state)
	return state.Generation, nil
}

// Forget drops an item, stopping its timer and releasing its preview buffer.
func (e *Estimator) Forget(itemID string) {
	e.mu.Lock()
	ent, ok := e.entries[itemID]
	if !ok {
		e.mu.Unlock()
		return
	}
	ent.supersede()
	e.releaseLocked(ent)
	delete(e.entries, itemID)
	retained := e.retained
	e.mu.Unlock()

	e.observer.Retained(retained)
}

// Close stops every timer, cancels in-flight transforms and waits for them
// to return. Tracked previews are released.
func (e *Estimator) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for id, ent := range e.entries {
		ent.supersede()
		e.releaseLocked(ent)
		delete(e.entries, id)
	}
	e.mu.Unlock()

	e.wg.Wait()
	e.observer.Retained(0)
}

func (e *Estimator) State(itemID string) (domain.PreviewState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.entries[itemID]
	if !ok {
		return domain.PreviewState{}, false
	}
	return ent.state, true
}

func (e *Estimator) Phase(itemID string) (Phase, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.entries[itemID]
	if !ok {
		return "", false
	}
	return ent.phase, true
}

// Preview returns the most recent successful preview and the format it was
// encoded in, which can differ from the item's current settings while a
// newer estimation is pending. The preview is dropped when one fails.
func (e *Estimator) Preview(itemID string) ([]byte, domain.Format, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.entries[itemID]
	if !ok || ent.preview == nil {
		return nil, "", false
	}
	return ent.preview, ent.format, true
}

func (e *Estimator) RetainedBytes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.retained
}

func (e *Estimator) run(itemID string, generation uint64) {
	e.mu.Lock()
	ent, ok := e.entries[itemID]
	if e.closed || !ok || ent.latest != generation {
		e.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	ent.timer = nil
	ent.cancel = cancel
	ent.phase = PhaseRunning
	source, settings := ent.source, ent.settings
	e.wg.Add(1)
	e.mu.Unlock()

	defer e.wg.Done()
	defer cancel()

	e.observer.Started(itemID, generation)
	out, err := e.transformer.Transform(ctx, source, settings)
	e.apply(itemID, generation, out, err)
}

func (e *Estimator) apply(itemID string, generation uint64, out domain.EncodedImage, err error) {
	e.mu.Lock()
	ent, ok := e.entries[itemID]
	if !ok || ent.latest != generation {
		latest := uint64(0)
		if ok {
			latest = ent.latest
		}
		e.mu.Unlock()

		e.logger.Printf("estimation discarded item_id=%s generation=%d latest=%d", itemID, generation, latest)
		e.observer.Discarded(itemID, generation, latest)
		return
	}

	ent.cancel = nil
	e.releaseLocked(ent)
	if err != nil {
		ent.phase = PhaseIdle
		ent.state = domain.FailedPreview(generation, domain.KindOf(err))
	} else {
		ent.preview = out.Data
		ent.format = out.Format
		if ent.format == "" {
			ent.format = ent.settings.Format
		}
		e.retained += len(out.Data)
		ent.phase = PhaseDone
		ent.state = domain.ReadyPreview(generation, out.Data)
	}
	state := ent.state
	retained := e.retained
	e.mu.Unlock()

	if err != nil {
		e.logger.Printf("estimation failed item_id=%s generation=%d reason=%s err=%v", itemID, generation, state.Reason, err)
	}
	e.observer.Applied(itemID, state)
	e.observer.Retained(retained)
}

func (e *Estimator) releaseLocked(ent *entry) {
	e.retained -= len(ent.preview)
	ent.preview = nil
	ent.format = ""
}

func (ent *entry) supersede() {
	if ent.timer != nil {
		ent.timer.Stop()
		ent.timer = nil
	}
	if ent.cancel != nil {
		ent.cancel()
		ent.cancel = nil
	}
}

type nopObserver struct{}

func (nopObserver) Started(string, uint64)              {}
func (nopObserver) Applied(string, domain.PreviewState) {}
func (nopObserver) Discarded(string, uint64, uint64)    {}
func (nopObserver) Retained(int)                        {}
