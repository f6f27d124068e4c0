package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/MrWong99/rescribe/internal/transcript"
	"github.com/MrWong99/rescribe/pkg/audio"
	"github.com/MrWong99/rescribe/pkg/types"
)

// processJob drives one claimed job through the full pipeline and into a
// terminal state. Failures are recorded on the job; nothing is returned
// because the loop continues with the next job either way.
func (w *Worker) processJob(ctx context.Context, job *types.Job) {
	w.isProcessing.Store(true)
	defer w.isProcessing.Store(false)

	w.metrics.JobsInFlight.Add(ctx, 1)
	defer w.metrics.JobsInFlight.Add(ctx, -1)

	log := slog.With("job_id", job.ID, "file", job.OriginalFilename)
	log.Info("job claimed")
	w.notifier.JobStarted(ctx, job)

	started := time.Now()
	applied, err := w.transcribe(ctx, job)
	elapsed := time.Since(started)
	w.metrics.JobDuration.Record(ctx, elapsed.Seconds())

	if err != nil {
		log.Error("job failed", "elapsed", elapsed, "error", err)
		w.metrics.RecordJobProcessed(ctx, "failed")
		if ferr := w.store.FinalizeFailure(ctx, job.ID, err.Error()); ferr != nil {
			log.Error("worker: record failure", "error", ferr)
		}
		w.notifier.JobFailed(ctx, job, err)
		return
	}

	log.Info("job completed", "elapsed", elapsed, "corrections_applied", applied)
	w.metrics.RecordJobProcessed(ctx, "completed")
	w.notifier.JobCompleted(ctx, job, elapsed, applied)
}

// transcribe runs the two-pass pipeline for one job and returns the number of
// corrections applied to the final transcript:
//
//  1. First pass: transcribe the whole file with word-level confidence and
//     persist the timeline.
//  2. Plan correction windows around low-confidence clusters.
//  3. Re-hear each window with the multimodal model. A failed window is
//     logged and skipped; the first pass already covers its content.
//  4. Merge accepted corrections into the word timeline and finalize.
func (w *Worker) transcribe(ctx context.Context, job *types.Job) (applied int, err error) {
	// ── Stage 1: first pass ──────────────────────────────────────────────────

	asrStart := time.Now()
	tr, err := w.asr.TranscribeFile(ctx, job.AudioPath)
	if err != nil {
		return 0, fmt.Errorf("worker: first pass: %w", err)
	}
	w.metrics.ASRDuration.Record(ctx, time.Since(asrStart).Seconds())

	if err := w.store.SaveSegments(ctx, job.ID, tr.Words); err != nil {
		return 0, fmt.Errorf("worker: persist timeline: %w", err)
	}

	// ── Stage 2: plan correction windows ─────────────────────────────────────

	clusters := w.clusterer.Cluster(tr.Words)
	slog.Info("first pass done",
		"job_id", job.ID,
		"words", len(tr.Words),
		"language", tr.Language,
		"windows", len(clusters),
	)

	// ── Stage 3: re-hear each window ─────────────────────────────────────────

	corrections := make([]transcript.Correction, 0, len(clusters))
	for _, cl := range clusters {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}

		c, err := w.reviewWindow(ctx, job, tr.Words, cl)
		if err != nil {
			slog.Warn("worker: window skipped",
				"job_id", job.ID,
				"clip_start", cl.ClipStart,
				"clip_end", cl.ClipEnd,
				"error", err,
			)
			continue
		}
		corrections = append(corrections, c)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	// ── Stage 4: merge and finalize ──────────────────────────────────────────

	merged := transcript.Merge(tr.Words, corrections)
	finalText := merged.Text
	if len(tr.Words) == 0 {
		// No word timeline to merge over. Keep whatever full text the
		// recognizer produced rather than completing with an empty transcript.
		finalText = tr.Text
	}

	if err := w.store.FinalizeSuccess(ctx, job.ID, finalText); err != nil {
		return 0, fmt.Errorf("worker: finalize: %w", err)
	}
	return merged.Applied, nil
}

// reviewWindow runs the second pass over one correction window: slice the
// clip, re-hear it, verify the suggestion, and record the audit trail. The
// clip file is removed before returning regardless of outcome.
func (w *Worker) reviewWindow(ctx context.Context, job *types.Job, words []types.Word, cl transcript.Cluster) (transcript.Correction, error) {
	clipTimer := time.Now()
	defer func() {
		w.metrics.ClipDuration.Record(ctx, time.Since(clipTimer).Seconds())
	}()

	clipPath := audio.ClipPath(w.clipDir, cl.ClipStart, cl.ClipEnd)
	if err := w.slicer.Slice(ctx, job.AudioPath, clipPath, cl.ClipStart, cl.ClipEnd-cl.ClipStart); err != nil {
		return transcript.Correction{}, fmt.Errorf("slice clip: %w", err)
	}
	defer w.removeClip(clipPath)

	wav, err := os.ReadFile(clipPath)
	if err != nil {
		return transcript.Correction{}, fmt.Errorf("read clip: %w", err)
	}

	heard, err := w.corrector.TranscribeClip(ctx, wav)
	if err != nil {
		return transcript.Correction{}, fmt.Errorf("second pass: %w", err)
	}

	eval := transcript.Evaluate(words, heard, cl.ClipStart, cl.ClipEnd)

	outcome := "skipped"
	if eval.Apply {
		outcome = "applied"
	}
	w.metrics.RecordCorrection(ctx, outcome)
	slog.Debug("window evaluated",
		"job_id", job.ID,
		"clip_start", cl.ClipStart,
		"clip_end", cl.ClipEnd,
		"outcome", outcome,
		"reason", eval.Reason,
	)

	w.recordCorrection(ctx, job, cl, eval, clipPath)

	return transcript.Correction{
		ClipStart: cl.ClipStart,
		ClipEnd:   cl.ClipEnd,
		Text:      eval.CorrectedText,
		Apply:     eval.Apply,
	}, nil
}

// recordCorrection persists the audit record for one evaluated window,
// anchored to a segment inside the window. A window with no fully contained
// segment (or a store error) loses its audit record but not its correction;
// the merge works from memory.
func (w *Worker) recordCorrection(ctx context.Context, job *types.Job, cl transcript.Cluster, eval transcript.Evaluation, clipPath string) {
	seg, err := w.store.FindSegmentInRange(ctx, job.ID, cl.ClipStart, cl.ClipEnd)
	if err != nil {
		slog.Warn("worker: anchor lookup failed", "job_id", job.ID, "error", err)
		return
	}
	if seg == nil {
		slog.Debug("worker: no anchor segment in window",
			"job_id", job.ID,
			"clip_start", cl.ClipStart,
			"clip_end", cl.ClipEnd,
		)
		return
	}

	rec := &types.Correction{
		SegmentID:         seg.ID,
		OriginalText:      eval.OriginalText,
		CorrectedText:     eval.CorrectedText,
		TriggerConfidence: cl.AverageConfidence,
		ClipPath:          clipPath,
		ClipStart:         cl.ClipStart,
		ClipEnd:           cl.ClipEnd,
		EditDistance:      eval.Distance,
		Applied:           eval.Apply,
		RejectReason:      eval.Reason,
	}
	if err := w.store.SaveCorrection(ctx, rec); err != nil {
		slog.Warn("worker: save correction", "job_id", job.ID, "error", err)
	}
}

// removeClip deletes a temporary clip file. Best-effort; a leftover clip
// wastes disk, nothing more.
func (w *Worker) removeClip(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Debug("worker: remove clip", "path", path, "error", err)
	}
}
