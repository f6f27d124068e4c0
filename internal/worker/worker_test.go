package worker_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/rescribe/internal/worker"
	audiomock "github.com/MrWong99/rescribe/pkg/audio/mock"
	almmock "github.com/MrWong99/rescribe/pkg/provider/alm/mock"
	sttmock "github.com/MrWong99/rescribe/pkg/provider/stt/mock"
	"github.com/MrWong99/rescribe/pkg/types"
)

// ─── helpers ─────────────────────────────────────────────────────────────────

// word builds a timeline word for test fixtures.
func word(text string, start, end, probability float64) types.Word {
	return types.Word{Text: text, Start: start, End: end, Probability: probability}
}

// fakeStore is an in-memory stand-in for the job store. It hands out queued
// jobs in order and records everything the worker writes back.
type fakeStore struct {
	mu sync.Mutex

	pending     []*types.Job
	claimErr    error
	noAnchor    bool
	segments    []types.Segment
	nextSegID   int64
	corrections []types.Correction
	completed   map[string]string
	failed      map[string]string
}

func newFakeStore(jobs ...*types.Job) *fakeStore {
	return &fakeStore{
		pending:   jobs,
		completed: map[string]string{},
		failed:    map[string]string{},
	}
}

func (f *fakeStore) ClaimNextPending(_ context.Context) (*types.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	if len(f.pending) == 0 {
		return nil, nil
	}
	job := f.pending[0]
	f.pending = f.pending[1:]
	job.Status = types.StatusProcessing
	job.ProcessingStarted = time.Now()
	return job, nil
}

func (f *fakeStore) SaveSegments(_ context.Context, jobID string, words []types.Word) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range words {
		f.nextSegID++
		f.segments = append(f.segments, types.Segment{
			ID:         f.nextSegID,
			JobID:      jobID,
			Text:       w.Text,
			Start:      w.Start,
			End:        w.End,
			Confidence: w.Probability,
		})
	}
	return nil
}

func (f *fakeStore) FindSegmentInRange(_ context.Context, jobID string, start, end float64) (*types.Segment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.noAnchor {
		return nil, nil
	}
	for _, s := range f.segments {
		if s.JobID == jobID && s.Start >= start && s.End <= end {
			seg := s
			return &seg, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) SaveCorrection(_ context.Context, c *types.Correction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.ID = int64(len(f.corrections) + 1)
	f.corrections = append(f.corrections, *c)
	return nil
}

func (f *fakeStore) FinalizeSuccess(_ context.Context, id, transcript string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[id] = transcript
	return nil
}

func (f *fakeStore) FinalizeFailure(_ context.Context, id, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id] = errMsg
	return nil
}

func (f *fakeStore) completedTranscript(id string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tr, ok := f.completed[id]
	return tr, ok
}

func (f *fakeStore) correctionRows() []types.Correction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Correction(nil), f.corrections...)
}

// fakeNotifier records lifecycle events.
type fakeNotifier struct {
	mu        sync.Mutex
	started   []string
	completed []string
	failed    []string
	applied   int
	lastErr   error
}

func (f *fakeNotifier) JobStarted(_ context.Context, job *types.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, job.ID)
}

func (f *fakeNotifier) JobCompleted(_ context.Context, job *types.Job, _ time.Duration, applied int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, job.ID)
	f.applied = applied
}

func (f *fakeNotifier) JobFailed(_ context.Context, job *types.Job, jobErr error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, job.ID)
	f.lastErr = jobErr
}

func (f *fakeNotifier) counts() (started, completed, failed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.started), len(f.completed), len(f.failed)
}

// blockingCorrector blocks inside TranscribeClip until released, so tests can
// observe an in-flight job deterministically.
type blockingCorrector struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingCorrector() *blockingCorrector {
	return &blockingCorrector{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (b *blockingCorrector) TranscribeClip(ctx context.Context, _ []byte) (string, error) {
	b.once.Do(func() { close(b.entered) })
	select {
	case <-b.release:
		return "slow but correct", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// newJob returns a pending job fixture.
func newJob(id string) *types.Job {
	return &types.Job{
		ID:               id,
		UserID:           "user-1",
		Status:           types.StatusPending,
		AudioPath:        "audio/" + id + ".wav",
		OriginalFilename: id + ".wav",
	}
}

// waitFor polls cond until it returns true or the deadline expires.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// ─── ProcessNext ─────────────────────────────────────────────────────────────

func TestProcessNext_EmptyQueue(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	n := &fakeNotifier{}
	w := worker.New(worker.Config{
		Store:     st,
		ASR:       &sttmock.Provider{},
		Corrector: &almmock.Provider{},
		Slicer:    &audiomock.Slicer{},
		Notifier:  n,
		ClipDir:   t.TempDir(),
	})

	ok, err := w.ProcessNext(context.Background())
	if err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}
	if ok {
		t.Error("ProcessNext = true, want false for empty queue")
	}
	if s, c, f := n.counts(); s+c+f != 0 {
		t.Errorf("notifications sent for empty queue: started=%d completed=%d failed=%d", s, c, f)
	}
}

func TestProcessNext_ClaimError(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	st.claimErr = errors.New("database locked")
	w := worker.New(worker.Config{
		Store:     st,
		ASR:       &sttmock.Provider{},
		Corrector: &almmock.Provider{},
		Slicer:    &audiomock.Slicer{},
		ClipDir:   t.TempDir(),
	})

	if _, err := w.ProcessNext(context.Background()); err == nil {
		t.Error("expected claim error to propagate")
	}
}

func TestProcessNext_HighConfidence_SkipsSecondPass(t *testing.T) {
	t.Parallel()

	st := newFakeStore(newJob("job-1"))
	asr := &sttmock.Provider{
		Transcription: &types.Transcription{
			Text:     "all good here",
			Language: "en",
			Duration: 1.5,
			Words: []types.Word{
				word("all", 0.0, 0.4, 0.95),
				word("good", 0.4, 0.9, 0.92),
				word("here", 0.9, 1.5, 0.88),
			},
		},
	}
	alm := &almmock.Provider{}
	slicer := &audiomock.Slicer{}
	n := &fakeNotifier{}

	w := worker.New(worker.Config{
		Store:     st,
		ASR:       asr,
		Corrector: alm,
		Slicer:    slicer,
		Notifier:  n,
		ClipDir:   t.TempDir(),
	})

	ok, err := w.ProcessNext(context.Background())
	if err != nil || !ok {
		t.Fatalf("ProcessNext = (%v, %v), want (true, nil)", ok, err)
	}

	if got := alm.CallCount(); got != 0 {
		t.Errorf("second pass ran %d times, want 0", got)
	}
	if got := slicer.CallCount(); got != 0 {
		t.Errorf("slicer ran %d times, want 0", got)
	}
	tr, done := st.completedTranscript("job-1")
	if !done {
		t.Fatal("job not completed")
	}
	if tr != "all good here" {
		t.Errorf("final transcript = %q, want %q", tr, "all good here")
	}
	if s, c, f := n.counts(); s != 1 || c != 1 || f != 0 {
		t.Errorf("notifications: started=%d completed=%d failed=%d, want 1/1/0", s, c, f)
	}
	if n.applied != 0 {
		t.Errorf("applied = %d, want 0", n.applied)
	}
}

func TestProcessNext_AppliesCorrection(t *testing.T) {
	t.Parallel()

	clipDir := t.TempDir()
	st := newFakeStore(newJob("job-2"))
	asr := &sttmock.Provider{
		Transcription: &types.Transcription{
			Text: "This is a beautfl wrld",
			Words: []types.Word{
				word("This", 0.0, 0.4, 0.95),
				word("is", 0.4, 0.6, 0.92),
				word("a", 0.6, 0.7, 0.97),
				word("beautfl", 3.0, 3.5, 0.30),
				word("wrld", 3.5, 4.0, 0.40),
			},
		},
	}
	alm := &almmock.Provider{Text: "This is a beautiful world."}
	slicer := &audiomock.Slicer{}
	n := &fakeNotifier{}

	w := worker.New(worker.Config{
		Store:     st,
		ASR:       asr,
		Corrector: alm,
		Slicer:    slicer,
		Notifier:  n,
		ClipDir:   clipDir,
	})

	if _, err := w.ProcessNext(context.Background()); err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}

	// The two low-confidence words share one cluster centered at 3.5s, so a
	// single 20-second window [0, 13.5] is cut and re-heard once.
	if got := slicer.CallCount(); got != 1 {
		t.Fatalf("slicer ran %d times, want 1", got)
	}
	call := slicer.SliceCalls[0]
	if call.InputPath != "audio/job-2.wav" {
		t.Errorf("slice input = %q, want job audio", call.InputPath)
	}
	if call.Start != 0 || call.Duration != 13.5 {
		t.Errorf("slice window = (%.2f, %.2f), want (0.00, 13.50)", call.Start, call.Duration)
	}
	if got := alm.CallCount(); got != 1 {
		t.Fatalf("second pass ran %d times, want 1", got)
	}
	if len(alm.TranscribeClipCalls[0].WAV) == 0 {
		t.Error("second pass received an empty clip")
	}

	tr, done := st.completedTranscript("job-2")
	if !done {
		t.Fatal("job not completed")
	}
	if tr != "This is a beautiful world." {
		t.Errorf("final transcript = %q, want %q", tr, "This is a beautiful world.")
	}
	if n.applied != 1 {
		t.Errorf("applied = %d, want 1", n.applied)
	}

	rows := st.correctionRows()
	if len(rows) != 1 {
		t.Fatalf("correction rows = %d, want 1", len(rows))
	}
	row := rows[0]
	if !row.Applied {
		t.Error("correction row not marked applied")
	}
	if row.SegmentID != 1 {
		t.Errorf("anchor segment = %d, want 1", row.SegmentID)
	}
	if row.OriginalText != "This is a beautfl wrld" {
		t.Errorf("original text = %q", row.OriginalText)
	}
	if row.CorrectedText != "This is a beautiful world." {
		t.Errorf("corrected text = %q", row.CorrectedText)
	}
	if row.EditDistance != 3 {
		t.Errorf("edit distance = %d, want 3", row.EditDistance)
	}
	if row.TriggerConfidence != 0.35 {
		t.Errorf("trigger confidence = %v, want 0.35", row.TriggerConfidence)
	}

	// Temporary clips must be cleaned up.
	leftovers, err := filepath.Glob(filepath.Join(clipDir, "clip_*"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(leftovers) != 0 {
		t.Errorf("clips left behind: %v", leftovers)
	}
}

func TestProcessNext_RejectsUnintelligible(t *testing.T) {
	t.Parallel()

	st := newFakeStore(newJob("job-3"))
	asr := &sttmock.Provider{
		Transcription: &types.Transcription{
			Words: []types.Word{
				word("ok", 0.0, 0.3, 0.90),
				word("mumble", 1.0, 1.5, 0.20),
			},
		},
	}
	alm := &almmock.Provider{Text: "[unintelligible]"}
	n := &fakeNotifier{}

	w := worker.New(worker.Config{
		Store:     st,
		ASR:       asr,
		Corrector: alm,
		Slicer:    &audiomock.Slicer{},
		Notifier:  n,
		ClipDir:   t.TempDir(),
	})

	if _, err := w.ProcessNext(context.Background()); err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}

	tr, done := st.completedTranscript("job-3")
	if !done {
		t.Fatal("job not completed")
	}
	if tr != "ok mumble" {
		t.Errorf("final transcript = %q, want original %q", tr, "ok mumble")
	}
	if n.applied != 0 {
		t.Errorf("applied = %d, want 0", n.applied)
	}

	rows := st.correctionRows()
	if len(rows) != 1 {
		t.Fatalf("correction rows = %d, want 1", len(rows))
	}
	if rows[0].Applied {
		t.Error("rejected correction marked applied")
	}
	if rows[0].RejectReason != "empty or unintelligible" {
		t.Errorf("reject reason = %q", rows[0].RejectReason)
	}
}

func TestProcessNext_FirstPassFailure_FailsJob(t *testing.T) {
	t.Parallel()

	st := newFakeStore(newJob("job-4"))
	asr := &sttmock.Provider{TranscribeFileErr: errors.New("recognizer unreachable")}
	n := &fakeNotifier{}

	w := worker.New(worker.Config{
		Store:     st,
		ASR:       asr,
		Corrector: &almmock.Provider{},
		Slicer:    &audiomock.Slicer{},
		Notifier:  n,
		ClipDir:   t.TempDir(),
	})

	if _, err := w.ProcessNext(context.Background()); err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}

	st.mu.Lock()
	msg := st.failed["job-4"]
	st.mu.Unlock()
	if msg == "" {
		t.Fatal("job not marked failed")
	}
	if !strings.Contains(msg, "first pass") {
		t.Errorf("failure message = %q, want first-pass context", msg)
	}
	if s, c, f := n.counts(); s != 1 || c != 0 || f != 1 {
		t.Errorf("notifications: started=%d completed=%d failed=%d, want 1/0/1", s, c, f)
	}
	if n.lastErr == nil {
		t.Error("failure notification carried no error")
	}
}

func TestProcessNext_WindowFailure_CompletesWithOriginal(t *testing.T) {
	t.Parallel()

	st := newFakeStore(newJob("job-5"))
	asr := &sttmock.Provider{
		Transcription: &types.Transcription{
			Words: []types.Word{
				word("static", 0.0, 0.5, 0.25),
			},
		},
	}
	slicer := &audiomock.Slicer{SliceErr: errors.New("ffmpeg exploded")}
	n := &fakeNotifier{}

	w := worker.New(worker.Config{
		Store:     st,
		ASR:       asr,
		Corrector: &almmock.Provider{Text: "unused"},
		Slicer:    slicer,
		Notifier:  n,
		ClipDir:   t.TempDir(),
	})

	if _, err := w.ProcessNext(context.Background()); err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}

	// A failed window degrades to the first-pass text; the job still completes.
	tr, done := st.completedTranscript("job-5")
	if !done {
		t.Fatal("job not completed despite recoverable window failure")
	}
	if tr != "static" {
		t.Errorf("final transcript = %q, want %q", tr, "static")
	}
	if len(st.correctionRows()) != 0 {
		t.Error("correction row recorded for failed window")
	}
	if s, c, f := n.counts(); s != 1 || c != 1 || f != 0 {
		t.Errorf("notifications: started=%d completed=%d failed=%d, want 1/1/0", s, c, f)
	}
}

func TestProcessNext_NoAnchorSegment_StillMerges(t *testing.T) {
	t.Parallel()

	st := newFakeStore(newJob("job-6"))
	st.noAnchor = true
	asr := &sttmock.Provider{
		Transcription: &types.Transcription{
			Words: []types.Word{
				word("hello", 0.0, 0.5, 0.30),
			},
		},
	}
	alm := &almmock.Provider{Text: "jello"}
	n := &fakeNotifier{}

	w := worker.New(worker.Config{
		Store:     st,
		ASR:       asr,
		Corrector: alm,
		Slicer:    &audiomock.Slicer{},
		Notifier:  n,
		ClipDir:   t.TempDir(),
	})

	if _, err := w.ProcessNext(context.Background()); err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}

	// Without an anchor segment the audit record is dropped, but the accepted
	// correction still reaches the final transcript.
	tr, _ := st.completedTranscript("job-6")
	if tr != "jello" {
		t.Errorf("final transcript = %q, want %q", tr, "jello")
	}
	if n.applied != 1 {
		t.Errorf("applied = %d, want 1", n.applied)
	}
	if len(st.correctionRows()) != 0 {
		t.Error("correction persisted without an anchor segment")
	}
}

func TestProcessNext_EmptyTimeline_UsesRecognizerText(t *testing.T) {
	t.Parallel()

	st := newFakeStore(newJob("job-7"))
	asr := &sttmock.Provider{
		Transcription: &types.Transcription{Text: "whole file text"},
	}
	alm := &almmock.Provider{}

	w := worker.New(worker.Config{
		Store:     st,
		ASR:       asr,
		Corrector: alm,
		Slicer:    &audiomock.Slicer{},
		ClipDir:   t.TempDir(),
	})

	if _, err := w.ProcessNext(context.Background()); err != nil {
		t.Fatalf("ProcessNext: %v", err)
	}

	tr, done := st.completedTranscript("job-7")
	if !done {
		t.Fatal("job not completed")
	}
	if tr != "whole file text" {
		t.Errorf("final transcript = %q, want %q", tr, "whole file text")
	}
	if alm.CallCount() != 0 {
		t.Error("second pass ran with no word timeline")
	}
}

// ─── poll loop and shutdown ──────────────────────────────────────────────────

func TestStart_ClaimsQueuedJobs(t *testing.T) {
	t.Parallel()

	st := newFakeStore(newJob("job-8"))
	asr := &sttmock.Provider{
		Transcription: &types.Transcription{
			Words: []types.Word{word("fine", 0.0, 0.5, 0.9)},
		},
	}

	w := worker.New(worker.Config{
		Store:        st,
		ASR:          asr,
		Corrector:    &almmock.Provider{},
		Slicer:       &audiomock.Slicer{},
		ClipDir:      t.TempDir(),
		PollInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	waitFor(t, 2*time.Second, func() bool {
		_, done := st.completedTranscript("job-8")
		return done
	})

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	if err := w.Shutdown(shutdownCtx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestShutdown_WaitsForInFlightJob(t *testing.T) {
	t.Parallel()

	st := newFakeStore(newJob("job-9"))
	asr := &sttmock.Provider{
		Transcription: &types.Transcription{
			Words: []types.Word{word("garbled", 0.0, 0.5, 0.20)},
		},
	}
	corrector := newBlockingCorrector()

	w := worker.New(worker.Config{
		Store:        st,
		ASR:          asr,
		Corrector:    corrector,
		Slicer:       &audiomock.Slicer{},
		ClipDir:      t.TempDir(),
		PollInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	// Wait until the pipeline is inside the second pass.
	select {
	case <-corrector.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline never reached the second pass")
	}
	if !w.Processing() {
		t.Error("Processing() = false with a job in flight")
	}

	// Release the blocked call shortly after shutdown begins; Shutdown must
	// wait for the job instead of abandoning it.
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(corrector.release)
	}()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	if err := w.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if _, done := st.completedTranscript("job-9"); !done {
		t.Error("in-flight job was not completed before shutdown returned")
	}
	if w.Processing() {
		t.Error("Processing() = true after shutdown")
	}
}

func TestShutdown_TimesOutOnStuckJob(t *testing.T) {
	t.Parallel()

	st := newFakeStore(newJob("job-10"))
	asr := &sttmock.Provider{
		Transcription: &types.Transcription{
			Words: []types.Word{word("garbled", 0.0, 0.5, 0.20)},
		},
	}
	corrector := newBlockingCorrector()

	w := worker.New(worker.Config{
		Store:        st,
		ASR:          asr,
		Corrector:    corrector,
		Slicer:       &audiomock.Slicer{},
		ClipDir:      t.TempDir(),
		PollInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	select {
	case <-corrector.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline never reached the second pass")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer shutdownCancel()
	if err := w.Shutdown(shutdownCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown error = %v, want deadline exceeded", err)
	}

	// Unblock the pipeline and join the goroutine before the test ends.
	close(corrector.release)
	joinCtx, joinCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer joinCancel()
	if err := w.Shutdown(joinCtx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}
