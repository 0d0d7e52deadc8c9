package estimator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/imageoptimizer/internal/domain"
)

const testQuiet = 30 * time.Millisecond

type recordingTransformer struct {
	mu    sync.Mutex
	calls []domain.TransformSettings
	fn    func(ctx context.Context, settings domain.TransformSettings) (domain.EncodedImage, error)
}

func (r *recordingTransformer) Transform(ctx context.Context, _ []byte, settings domain.TransformSettings) (domain.EncodedImage, error) {
	r.mu.Lock()
	r.calls = append(r.calls, settings)
	r.mu.Unlock()

	if r.fn != nil {
		return r.fn(ctx, settings)
	}
	return encodedOfWidth(settings), nil
}

func (r *recordingTransformer) Calls() []domain.TransformSettings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.TransformSettings(nil), r.calls...)
}

// encodedOfWidth returns a payload whose length equals the target width so
// tests can tell results apart by size.
func encodedOfWidth(settings domain.TransformSettings) domain.EncodedImage {
	return domain.EncodedImage{Data: make([]byte, settings.Width), Format: settings.Format, Width: settings.Width, Height: settings.Height}
}

type countingObserver struct {
	mu        sync.Mutex
	started   int
	applied   int
	discarded int
	retained  int
}

func (o *countingObserver) Started(string, uint64) {
	o.mu.Lock()
	o.started++
	o.mu.Unlock()
}

func (o *countingObserver) Applied(string, domain.PreviewState) {
	o.mu.Lock()
	o.applied++
	o.mu.Unlock()
}

func (o *countingObserver) Discarded(string, uint64, uint64) {
	o.mu.Lock()
	o.discarded++
	o.mu.Unlock()
}

func (o *countingObserver) Retained(b int) {
	o.mu.Lock()
	o.retained = b
	o.mu.Unlock()
}

func (o *countingObserver) Discards() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.discarded
}

func settingsOfWidth(w int) domain.TransformSettings {
	return domain.TransformSettings{Width: w, Height: 10, Quality: 90, Format: domain.FormatJPEG}
}

func TestEstimator_CoalescesRapidMutations(t *testing.T) {
	transformer := &recordingTransformer{}
	est := New(transformer, WithQuietPeriod(testQuiet))
	defer est.Close()

	if err := est.Track("item-1", []byte("src")); err != nil {
		t.Fatalf("track: %v", err)
	}

	var last uint64
	for i := 1; i <= 5; i++ {
		gen, err := est.Schedule("item-1", settingsOfWidth(100*i))
		if err != nil {
			t.Fatalf("schedule %d: %v", i, err)
		}
		last = gen
	}
	if last != 5 {
		t.Fatalf("expected generation 5, got %d", last)
	}

	state := waitForStatus(t, est, "item-1", domain.PreviewReady)
	time.Sleep(3 * testQuiet)

	calls := transformer.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected exactly 1 transform invocation, got %d", len(calls))
	}
	if calls[0].Width != 500 {
		t.Fatalf("expected settings from the 5th mutation (width 500), got %d", calls[0].Width)
	}
	if state.Generation != 5 || state.EncodedSize != 500 {
		t.Fatalf("expected ready generation 5 size 500, got generation %d size %d", state.Generation, state.EncodedSize)
	}
	if phase, _ := est.Phase("item-1"); phase != PhaseDone {
		t.Fatalf("expected phase done, got %s", phase)
	}
}

func TestEstimator_PendingUntilQuietPeriodElapses(t *testing.T) {
	transformer := &recordingTransformer{}
	est := New(transformer, WithQuietPeriod(200*time.Millisecond))
	defer est.Close()

	if err := est.Track("item-1", nil); err != nil {
		t.Fatalf("track: %v", err)
	}
	if _, err := est.Schedule("item-1", settingsOfWidth(10)); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	state, _ := est.State("item-1")
	if state.Status != domain.PreviewPending || state.Generation != 1 {
		t.Fatalf("expected pending generation 1, got %s generation %d", state.Status, state.Generation)
	}
	if phase, _ := est.Phase("item-1"); phase != PhaseScheduled {
		t.Fatalf("expected phase scheduled, got %s", phase)
	}
	if n := len(transformer.Calls()); n != 0 {
		t.Fatalf("expected no transform before the quiet period, got %d", n)
	}
}

func TestEstimator_StaleResultIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	slowStarted := make(chan struct{})
	transformer := &recordingTransformer{
		fn: func(_ context.Context, settings domain.TransformSettings) (domain.EncodedImage, error) {
			if settings.Width == 111 {
				close(slowStarted)
				<-release
			}
			return encodedOfWidth(settings), nil
		},
	}
	observer := &countingObserver{}
	est := New(transformer, WithQuietPeriod(testQuiet), WithObserver(observer))
	defer est.Close()

	if err := est.Track("item-1", nil); err != nil {
		t.Fatalf("track: %v", err)
	}
	if _, err := est.Schedule("item-1", settingsOfWidth(111)); err != nil {
		t.Fatalf("schedule A: %v", err)
	}
	select {
	case <-slowStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for slow transform to start")
	}
	if phase, _ := est.Phase("item-1"); phase != PhaseRunning {
		t.Fatalf("expected phase running, got %s", phase)
	}

	if _, err := est.Schedule("item-1", settingsOfWidth(222)); err != nil {
		t.Fatalf("schedule B: %v", err)
	}
	state := waitForStatus(t, est, "item-1", domain.PreviewReady)
	if state.Generation != 2 || state.EncodedSize != 222 {
		t.Fatalf("expected generation 2 size 222, got generation %d size %d", state.Generation, state.EncodedSize)
	}

	close(release)
	waitFor(t, func() bool { return observer.Discards() == 1 })

	state, _ = est.State("item-1")
	if state.Generation != 2 || state.EncodedSize != 222 {
		t.Fatalf("expected late result to be discarded, got generation %d size %d", state.Generation, state.EncodedSize)
	}
}

func TestEstimator_ItemsRunInParallel(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(2)
	bothRunning := make(chan struct{})
	go func() {
		wg.Wait()
		close(bothRunning)
	}()

	transformer := &recordingTransformer{
		fn: func(_ context.Context, settings domain.TransformSettings) (domain.EncodedImage, error) {
			wg.Done()
			select {
			case <-bothRunning:
				return encodedOfWidth(settings), nil
			case <-time.After(2 * time.Second):
				return domain.EncodedImage{}, errors.New("sibling never started")
			}
		},
	}
	est := New(transformer, WithQuietPeriod(testQuiet))
	defer est.Close()

	for _, id := range []string{"a", "b"} {
		if err := est.Track(id, nil); err != nil {
			t.Fatalf("track %s: %v", id, err)
		}
		if _, err := est.Schedule(id, settingsOfWidth(10)); err != nil {
			t.Fatalf("schedule %s: %v", id, err)
		}
	}

	for _, id := range []string{"a", "b"} {
		state := waitForStatus(t, est, id, domain.PreviewReady)
		if state.EncodedSize != 10 {
			t.Fatalf("expected size 10 for %s, got %d", id, state.EncodedSize)
		}
	}
}

func TestEstimator_FailureIsRecordedAndReleasesPreview(t *testing.T) {
	fail := false
	var mu sync.Mutex
	transformer := &recordingTransformer{
		fn: func(_ context.Context, settings domain.TransformSettings) (domain.EncodedImage, error) {
			mu.Lock()
			defer mu.Unlock()
			if fail {
				return domain.EncodedImage{}, fmt.Errorf("%w: corrupt", domain.ErrDecode)
			}
			return encodedOfWidth(settings), nil
		},
	}
	est := New(transformer, WithQuietPeriod(testQuiet))
	defer est.Close()

	if err := est.Track("item-1", nil); err != nil {
		t.Fatalf("track: %v", err)
	}
	if _, err := est.Schedule("item-1", settingsOfWidth(64)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	waitForStatus(t, est, "item-1", domain.PreviewReady)
	if got := est.RetainedBytes(); got != 64 {
		t.Fatalf("expected 64 retained bytes, got %d", got)
	}

	mu.Lock()
	fail = true
	mu.Unlock()
	if _, err := est.Schedule("item-1", settingsOfWidth(32)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if _, _, ok := est.Preview("item-1"); !ok {
		t.Fatal("expected previous preview to stay available while pending")
	}

	state := waitForStatus(t, est, "item-1", domain.PreviewFailed)
	if state.Reason != domain.KindDecode {
		t.Fatalf("expected decode_error, got %s", state.Reason)
	}
	if _, _, ok := est.Preview("item-1"); ok {
		t.Fatal("expected preview to be released after failure")
	}
	if got := est.RetainedBytes(); got != 0 {
		t.Fatalf("expected 0 retained bytes, got %d", got)
	}
	if phase, _ := est.Phase("item-1"); phase != PhaseIdle {
		t.Fatalf("expected phase idle, got %s", phase)
	}
}

func TestEstimator_PreviewKeepsEncodedFormat(t *testing.T) {
	est := New(&recordingTransformer{}, WithQuietPeriod(testQuiet))
	defer est.Close()

	if err := est.Track("item-1", []byte("src")); err != nil {
		t.Fatalf("track: %v", err)
	}
	if _, err := est.Schedule("item-1", settingsOfWidth(16)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	waitForStatus(t, est, "item-1", domain.PreviewReady)

	webp := settingsOfWidth(24)
	webp.Format = domain.FormatWEBP
	if _, err := est.Schedule("item-1", webp); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	data, format, ok := est.Preview("item-1")
	if !ok || len(data) != 16 {
		t.Fatalf("expected the previous 16 byte preview while pending, got %d bytes (ok=%v)", len(data), ok)
	}
	if format != domain.FormatJPEG {
		t.Fatalf("expected pending preview to report jpeg, got %s", format)
	}

	waitForStatus(t, est, "item-1", domain.PreviewReady)
	if _, format, _ := est.Preview("item-1"); format != domain.FormatWEBP {
		t.Fatalf("expected webp after the new estimate, got %s", format)
	}
}

func TestEstimator_ForgetReleasesAndDiscards(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	transformer := &recordingTransformer{
		fn: func(_ context.Context, settings domain.TransformSettings) (domain.EncodedImage, error) {
			if settings.Width == 999 {
				started <- struct{}{}
				<-release
			}
			return encodedOfWidth(settings), nil
		},
	}
	observer := &countingObserver{}
	est := New(transformer, WithQuietPeriod(testQuiet), WithObserver(observer))
	defer est.Close()

	if err := est.Track("item-1", nil); err != nil {
		t.Fatalf("track: %v", err)
	}
	if _, err := est.Schedule("item-1", settingsOfWidth(50)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	waitForStatus(t, est, "item-1", domain.PreviewReady)

	if _, err := est.Schedule("item-1", settingsOfWidth(999)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	<-started
	est.Forget("item-1")
	close(release)

	waitFor(t, func() bool { return observer.Discards() == 1 })
	if _, ok := est.State("item-1"); ok {
		t.Fatal("expected item to be forgotten")
	}
	if got := est.RetainedBytes(); got != 0 {
		t.Fatalf("expected 0 retained bytes, got %d", got)
	}
}

func TestEstimator_MarkFailedSupersedesPending(t *testing.T) {
	transformer := &recordingTransformer{}
	est := New(transformer, WithQuietPeriod(testQuiet))
	defer est.Close()

	if err := est.Track("item-1", nil); err != nil {
		t.Fatalf("track: %v", err)
	}
	if _, err := est.Schedule("item-1", settingsOfWidth(10)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	gen, err := est.MarkFailed("item-1", domain.KindExportFailed)
	if err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if gen != 2 {
		t.Fatalf("expected generation 2, got %d", gen)
	}

	time.Sleep(3 * testQuiet)
	state, _ := est.State("item-1")
	if state.Status != domain.PreviewFailed || state.Reason != domain.KindExportFailed {
		t.Fatalf("expected failed export_failed, got %s %s", state.Status, state.Reason)
	}
	if n := len(transformer.Calls()); n != 0 {
		t.Fatalf("expected pending estimation to be cancelled, got %d calls", n)
	}
}

func TestEstimator_ErrorsForUnknownItems(t *testing.T) {
	est := New(&recordingTransformer{}, WithQuietPeriod(testQuiet))
	defer est.Close()

	if _, err := est.Schedule("missing", settingsOfWidth(1)); !errors.Is(err, domain.ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
	if _, err := est.MarkFailed("missing", domain.KindExportFailed); !errors.Is(err, domain.ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
	if err := est.Track("a", nil); err != nil {
		t.Fatalf("track: %v", err)
	}
	if err := est.Track("a", nil); !errors.Is(err, ErrAlreadyTracked) {
		t.Fatalf("expected ErrAlreadyTracked, got %v", err)
	}
}

func TestEstimator_CloseStopsPendingTimers(t *testing.T) {
	transformer := &recordingTransformer{}
	est := New(transformer, WithQuietPeriod(testQuiet))

	if err := est.Track("item-1", nil); err != nil {
		t.Fatalf("track: %v", err)
	}
	if _, err := est.Schedule("item-1", settingsOfWidth(10)); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	est.Close()

	time.Sleep(3 * testQuiet)
	if n := len(transformer.Calls()); n != 0 {
		t.Fatalf("expected no transform after close, got %d", n)
	}
	if _, err := est.Schedule("item-1", settingsOfWidth(10)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func waitForStatus(t *testing.T, est *Estimator, itemID string, status domain.PreviewStatus) domain.PreviewState {
	t.Helper()

	var state domain.PreviewState
	waitFor(t, func() bool {
		var ok bool
		state, ok = est.State(itemID)
		return ok && state.Status == status
	})
	return state
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for condition")
}
