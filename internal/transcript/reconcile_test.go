package transcript_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/rescribe/internal/transcript"
	"github.com/MrWong99/rescribe/pkg/types"
)

// --- Acceptance ---

func TestEvaluate_AcceptsGenuineCorrection(t *testing.T) {
	t.Parallel()

	words := []types.Word{
		word("the", 0, 0.3, 0.9),
		word("quick", 0.3, 0.7, 0.4),
		word("crown", 0.7, 1.1, 0.3),
	}

	ev := transcript.Evaluate(words, "the quick brown", 0, 1.5)
	if !ev.Apply {
		t.Fatalf("Apply = false (reason %q), want true", ev.Reason)
	}
	if ev.Reason != "" {
		t.Errorf("Reason = %q, want empty on acceptance", ev.Reason)
	}
	if ev.OriginalText != "the quick crown" {
		t.Errorf("OriginalText = %q, want %q", ev.OriginalText, "the quick crown")
	}
	if ev.CorrectedText != "the quick brown" {
		t.Errorf("CorrectedText = %q, want %q", ev.CorrectedText, "the quick brown")
	}
	if ev.Distance == 0 {
		t.Error("Distance = 0, want a positive edit distance")
	}
}

// --- Rejections ---

func TestEvaluate_HallucinationRejected(t *testing.T) {
	t.Parallel()

	words := []types.Word{
		word("the", 0, 0.4, 0.5),
		word("red", 0.4, 0.8, 0.4),
		word("fox", 0.8, 1.2, 0.3),
	}

	ev := transcript.Evaluate(words, "Completely different sentence with no relation", 0, 2)
	if ev.Apply {
		t.Fatal("Apply = true, want false for a hallucinated candidate")
	}
	if !strings.Contains(ev.Reason, "Levenshtein") {
		t.Errorf("Reason = %q, want it to name the Levenshtein guard", ev.Reason)
	}
}

func TestEvaluate_SentinelRejected(t *testing.T) {
	t.Parallel()

	words := []types.Word{word("mumble", 0, 1, 0.2)}

	ev := transcript.Evaluate(words, "[unintelligible]", 0, 2)
	if ev.Apply {
		t.Fatal("Apply = true, want false for the sentinel")
	}
	if ev.Reason != transcript.ReasonEmptyOrUnintelligible {
		t.Errorf("Reason = %q, want %q", ev.Reason, transcript.ReasonEmptyOrUnintelligible)
	}
}

func TestEvaluate_EmptyCandidateRejected(t *testing.T) {
	t.Parallel()

	words := []types.Word{word("something", 0, 1, 0.2)}

	for _, candidate := range []string{"", "   ", "...", "?!"} {
		ev := transcript.Evaluate(words, candidate, 0, 2)
		if ev.Apply {
			t.Errorf("Evaluate(%q).Apply = true, want false", candidate)
		}
		if ev.Reason != transcript.ReasonEmptyOrUnintelligible {
			t.Errorf("Evaluate(%q).Reason = %q, want %q",
				candidate, ev.Reason, transcript.ReasonEmptyOrUnintelligible)
		}
	}
}

func TestEvaluate_TooShortCandidateRejected(t *testing.T) {
	t.Parallel()

	words := []types.Word{word("something", 0, 1, 0.2)}

	ev := transcript.Evaluate(words, "hm", 0, 2)
	if ev.Apply {
		t.Fatal("Apply = true, want false for a two-rune candidate")
	}
	if ev.Reason != transcript.ReasonEmptyOrUnintelligible {
		t.Errorf("Reason = %q, want %q", ev.Reason, transcript.ReasonEmptyOrUnintelligible)
	}
}

func TestEvaluate_SurfaceOnlyChangeRejected(t *testing.T) {
	t.Parallel()

	words := []types.Word{
		word("Hello", 0, 0.5, 0.4),
		word("world", 0.5, 1.0, 0.5),
	}

	ev := transcript.Evaluate(words, "hello, World!", 0, 1.5)
	if ev.Apply {
		t.Fatal("Apply = true, want false when only punctuation and case differ")
	}
	if ev.Reason != transcript.ReasonNoChanges {
		t.Errorf("Reason = %q, want %q", ev.Reason, transcript.ReasonNoChanges)
	}
	if ev.Distance != 0 {
		t.Errorf("Distance = %d, want 0 between cleaned texts", ev.Distance)
	}
}

func TestEvaluate_UmlautsSurviveCleaning(t *testing.T) {
	t.Parallel()

	words := []types.Word{word("Müller", 0, 0.5, 0.4)}

	// Only case and punctuation differ; the umlaut must not be stripped.
	ev := transcript.Evaluate(words, "müller.", 0, 1)
	if ev.Reason != transcript.ReasonNoChanges {
		t.Errorf("Reason = %q, want %q", ev.Reason, transcript.ReasonNoChanges)
	}
}

// --- Window containment ---

func TestEvaluate_OnlyFullyContainedWordsCompared(t *testing.T) {
	t.Parallel()

	words := []types.Word{
		word("before", 0, 1, 0.9),
		word("inside", 1, 2, 0.3),
		word("straddles", 2, 3.5, 0.4),
	}

	ev := transcript.Evaluate(words, "indeed", 0.5, 3.0)
	if ev.OriginalText != "inside" {
		t.Errorf("OriginalText = %q, want %q (partial overlaps excluded)", ev.OriginalText, "inside")
	}
}

func TestEvaluate_EmptyWindow(t *testing.T) {
	t.Parallel()

	// Nothing inside the window: a sane candidate is still an insertion
	// whose ratio is 1.0, above the guard.
	ev := transcript.Evaluate(nil, "ghost words", 0, 2)
	if ev.Apply {
		t.Fatal("Apply = true, want false when the window holds no words")
	}
	if !strings.Contains(ev.Reason, "Levenshtein") {
		t.Errorf("Reason = %q, want the Levenshtein guard", ev.Reason)
	}
}
