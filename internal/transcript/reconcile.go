package transcript

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/rescribe/pkg/types"
)

// Reject reasons recorded on discarded corrections.
const (
	ReasonEmptyOrUnintelligible = "empty or unintelligible"
	ReasonRatioTooHigh          = "Levenshtein ratio too high"
	ReasonNoChanges             = "No changes"
)

// maxEditRatio is the hallucination guard. A clip of real speech containing a
// few uncertain words should not come back differing by more than 70% of its
// cleaned length; anything above is treated as the model making things up.
const maxEditRatio = 0.70

// minCorrectionRunes is the shortest cleaned candidate taken seriously.
const minCorrectionRunes = 3

// unintelligibleSentinel is what the audio model's "[unintelligible]" marker
// reduces to once cleaning strips the brackets.
const unintelligibleSentinel = "unintelligible"

var (
	// nonWordRE matches everything that is neither a word character nor
	// whitespace. Word characters are Unicode letters, digits and underscore.
	nonWordRE = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)

	// whitespaceRE matches runs of whitespace for collapsing.
	whitespaceRE = regexp.MustCompile(`\s+`)
)

// Evaluation is the verdict on a single candidate correction.
type Evaluation struct {
	// OriginalText is the space-joined original words fully inside the
	// window the candidate was transcribed from.
	OriginalText string

	// CorrectedText is the candidate as received from the audio model.
	CorrectedText string

	// Distance is the Levenshtein distance between the cleaned texts.
	Distance int

	// Apply reports whether the candidate should replace the original words.
	Apply bool

	// Reason names why a candidate was discarded. Empty when Apply is true.
	Reason string
}

// Evaluate judges a candidate correction against the original word timeline
// for the clip window [clipStart, clipEnd].
//
// The verdict procedure:
//  1. Collect the original words lying fully inside the window and join them
//     with spaces.
//  2. Clean both texts: lowercase, drop everything that is not a word
//     character or whitespace, collapse whitespace runs, trim.
//  3. Compute the Levenshtein distance between the cleaned texts.
//  4. Reject candidates that are empty, unintelligible or shorter than three
//     runes after cleaning, candidates whose edit ratio exceeds the
//     hallucination guard, and candidates that change nothing. Everything
//     else is accepted.
func Evaluate(words []types.Word, correctedText string, clipStart, clipEnd float64) Evaluation {
	var inWindow []string
	for _, w := range words {
		if w.Start >= clipStart && w.End <= clipEnd {
			inWindow = append(inWindow, w.Text)
		}
	}

	ev := Evaluation{
		OriginalText:  strings.Join(inWindow, " "),
		CorrectedText: correctedText,
	}

	cleanedOriginal := clean(ev.OriginalText)
	cleanedCorrection := clean(correctedText)
	ev.Distance = matchr.Levenshtein(cleanedOriginal, cleanedCorrection)

	switch {
	case cleanedCorrection == "",
		cleanedCorrection == unintelligibleSentinel,
		utf8.RuneCountInString(cleanedCorrection) < minCorrectionRunes:
		ev.Reason = ReasonEmptyOrUnintelligible

	case editRatio(ev.Distance, cleanedOriginal, cleanedCorrection) > maxEditRatio:
		ev.Reason = ReasonRatioTooHigh

	case cleanedOriginal == cleanedCorrection:
		ev.Reason = ReasonNoChanges

	default:
		ev.Apply = true
	}
	return ev
}

// editRatio relates the edit distance to the longer of the two cleaned
// texts. Two empty texts have ratio zero.
func editRatio(distance int, a, b string) float64 {
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	if longest == 0 {
		return 0
	}
	return float64(distance) / float64(longest)
}

// clean normalizes text for comparison so that surface differences like
// punctuation and capitalization do not contribute to the edit distance.
func clean(s string) string {
	s = strings.ToLower(s)
	s = nonWordRE.ReplaceAllString(s, "")
	s = whitespaceRE.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
