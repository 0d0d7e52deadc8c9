package editor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/dunamismax/imageoptimizer/internal/alttext"
	"github.com/dunamismax/imageoptimizer/internal/domain"
	"github.com/dunamismax/imageoptimizer/internal/estimator"
	"github.com/dunamismax/imageoptimizer/internal/export"
	"github.com/dunamismax/imageoptimizer/internal/id"
	"github.com/dunamismax/imageoptimizer/internal/naming"
	"github.com/dunamismax/imageoptimizer/internal/pipeline"
)

const DefaultMaxItems = 10

var ErrSessionClosed = errors.New("session closed")

type Transformer interface {
	Transform(ctx context.Context, input []byte, settings domain.TransformSettings) (domain.EncodedImage, error)
}

type Prober interface {
	Probe(data []byte) (domain.Dimensions, error)
}

type ProberFunc func(data []byte) (domain.Dimensions, error)

func (f ProberFunc) Probe(data []byte) (domain.Dimensions, error) {
	return f(data)
}

type AltTextGenerator interface {
	Generate(ctx context.Context, image []byte, mimeType string, lang alttext.Language) (string, error)
}

type Option func(*options)

type options struct {
	maxItems          int
	maxDimension      int
	quietPeriod       time.Duration
	exportConcurrency int
	prober            Prober
	altText           AltTextGenerator
	logger            *log.Logger
	observer          estimator.Observer
}

func WithMaxItems(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxItems = n
		}
	}
}

// WithMaxDimension caps each target side for ingestion defaults, settings
// edits and restores.
func WithMaxDimension(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxDimension = n
		}
	}
}

func WithQuietPeriod(d time.Duration) Option {
	return func(o *options) { o.quietPeriod = d }
}

func WithExportConcurrency(n int) Option {
	return func(o *options) { o.exportConcurrency = n }
}

func WithProber(p Prober) Option {
	return func(o *options) { o.prober = p }
}

func WithAltText(g AltTextGenerator) Option {
	return func(o *options) { o.altText = g }
}

func WithLogger(logger *log.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithEstimatorObserver(obs estimator.Observer) Option {
	return func(o *options) { o.observer = obs }
}

// Session is one editing workspace: an ordered list of items, their
// settings and the estimator that keeps their previews current.
type Session struct {
	id           string
	maxItems     int
	maxDimension int
	transformer  Transformer
	prober       Prober
	altText      AltTextGenerator
	logger       *log.Logger
	estimator    *estimator.Estimator
	exporter     *export.Coordinator
	createdAt    time.Time

	mu         sync.RWMutex
	order      []string
	items      map[string]*domain.ImageItem
	applyToAll bool
	closed     bool
}

func NewSession(sessionID string, transformer Transformer, opts ...Option) *Session {
	o := options{
		maxItems:     DefaultMaxItems,
		maxDimension: domain.DefaultMaxDimension,
		prober:       ProberFunc(pipeline.Probe),
		logger:       log.New(io.Discard, "", 0),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.New(io.Discard, "", 0)
	}
	if sessionID == "" {
		sessionID = id.New()
	}

	est := estimator.New(transformer,
		estimator.WithQuietPeriod(o.quietPeriod),
		estimator.WithLogger(o.logger),
		estimator.WithObserver(o.observer),
	)

	return &Session{
		id:           sessionID,
		maxItems:     o.maxItems,
		maxDimension: o.maxDimension,
		transformer:  transformer,
		prober:       o.prober,
		altText:      o.altText,
		logger:       o.logger,
		estimator:    est,
		exporter: export.NewCoordinator(transformer,
			export.WithConcurrency(o.exportConcurrency),
			export.WithFailureMarker(est),
			export.WithLogger(o.logger),
		),
		createdAt: time.Now().UTC(),
		items:     make(map[string]*domain.ImageItem),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) MaxItems() int {
	return s.maxItems
}

func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func (s *Session) ApplyToAll() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.applyToAll
}

func (s *Session) SetApplyToAll(enabled bool) {
	s.mu.Lock()
	s.applyToAll = enabled
	s.mu.Unlock()
}

// ItemView is a point-in-time copy of an item and its preview state.
type ItemView struct {
	ID          string                   `json:"id"`
	Filename    string                   `json:"filename"`
	MIMEType    string                   `json:"mime_type"`
	SourceBytes int                      `json:"source_bytes"`
	Natural     domain.Dimensions        `json:"natural"`
	Settings    domain.TransformSettings `json:"settings"`
	OutputName  string                   `json:"output_name"`
	Preview     domain.PreviewState      `json:"preview"`
	Phase       estimator.Phase          `json:"phase"`
}

func (s *Session) Items() []ItemView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	views := make([]ItemView, 0, len(s.order))
	for _, itemID := range s.order {
		views = append(views, s.viewLocked(s.items[itemID]))
	}
	return views
}

func (s *Session) Item(itemID string) (ItemView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[itemID]
	if !ok {
		return ItemView{}, fmt.Errorf("%w: %s", domain.ErrItemNotFound, itemID)
	}
	return s.viewLocked(item), nil
}

// Preview returns the latest successfully encoded preview for an item with
// the format those bytes were encoded in.
func (s *Session) Preview(itemID string) ([]byte, domain.Format, bool) {
	s.mu.RLock()
	_, ok := s.items[itemID]
	s.mu.RUnlock()
	if !ok {
		return nil, "", false
	}
	return s.estimator.Preview(itemID)
}

func (s *Session) RetainedPreviewBytes() int {
	return s.estimator.RetainedBytes()
}

func (s *Session) viewLocked(item *domain.ImageItem) ItemView {
	preview, _ := s.estimator.State(item.ID)
	phase, _ := s.estimator.Phase(item.ID)
	return ItemView{
		ID:          item.ID,
		Filename:    item.Source.Filename,
		MIMEType:    item.Source.MIMEType,
		SourceBytes: len(item.Source.Data),
		Natural:     item.Natural,
		Settings:    item.Settings,
		OutputName:  naming.Resolve(item.Source.Filename, item.Settings),
		Preview:     preview,
		Phase:       phase,
	}
}

// UpdateSettings applies patch to one item, or to every item when
// apply-to-all is enabled. Linked dimensions are derived per item from its
// own natural size. Either every targeted item is updated or none is.
func (s *Session) UpdateSettings(itemID string, patch SettingsPatch) ([]ItemView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}

	var targets []*domain.ImageItem
	if s.applyToAll {
		if itemID != "" {
			if _, ok := s.items[itemID]; !ok {
				return nil, fmt.Errorf("%w: %s", domain.ErrItemNotFound, itemID)
			}
		}
		for _, oid := range s.order {
			targets = append(targets, s.items[oid])
		}
	} else {
		item, ok := s.items[itemID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrItemNotFound, itemID)
		}
		targets = []*domain.ImageItem{item}
	}

	next := make([]domain.TransformSettings, len(targets))
	for i, item := range targets {
		settings, err := patch.Apply(item.Natural, item.Settings, s.maxDimension)
		if err != nil {
			return nil, fmt.Errorf("item %s: %w", item.ID, err)
		}
		next[i] = settings
	}

	views := make([]ItemView, 0, len(targets))
	for i, item := range targets {
		item.Settings = next[i]
		s.scheduleLocked(item)
		views = append(views, s.viewLocked(item))
	}
	return views, nil
}

func (s *Session) scheduleLocked(item *domain.ImageItem) {
	if _, err := s.estimator.Schedule(item.ID, item.Settings); err != nil {
		s.logger.Printf("estimation schedule failed session_id=%s item_id=%s err=%v", s.id, item.ID, err)
	}
}

// Remove drops an item and releases its preview.
func (s *Session) Remove(itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[itemID]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrItemNotFound, itemID)
	}
	s.removeLocked(itemID)
	return nil
}

func (s *Session) removeLocked(itemID string) {
	delete(s.items, itemID)
	for i, oid := range s.order {
		if oid == itemID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.estimator.Forget(itemID)
}

// Clear removes every item.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

func (s *Session) clearLocked() {
	for _, itemID := range s.order {
		s.estimator.Forget(itemID)
	}
	s.order = nil
	s.items = make(map[string]*domain.ImageItem)
}

// Close stops all pending estimations. The session rejects further edits.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.order = nil
	s.items = make(map[string]*domain.ImageItem)
	s.mu.Unlock()

	s.estimator.Close()
}
