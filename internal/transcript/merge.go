package transcript

import (
	"regexp"
	"sort"
	"strings"

	"github.com/MrWong99/rescribe/pkg/types"
)

// Correction is one second-pass result to fold into the final transcript.
type Correction struct {
	// ClipStart and ClipEnd delimit the clip window the correction covers.
	ClipStart float64
	ClipEnd   float64

	// Text is the replacement text. It is emitted as a single token even
	// when it contains several words.
	Text string

	// Apply marks whether reconciliation accepted the correction.
	Apply bool
}

// MergeResult is the assembled final transcript.
type MergeResult struct {
	// Text is the transcript with accepted corrections substituted in.
	Text string

	// Applied counts corrections folded into Text.
	Applied int

	// Skipped counts corrections that were recorded but not applied.
	Skipped int
}

// punctuationToken matches tokens consisting solely of punctuation. No space
// is inserted next to such a token when joining.
var punctuationToken = regexp.MustCompile(`^[.,!?;:'"()\-]+$`)

// Merge folds accepted corrections into the original word timeline and
// assembles the final transcript text.
//
// Corrections are processed in ascending clip order against a cursor into the
// original words:
//  1. An unapplied correction only counts as skipped; the cursor stays put.
//  2. Original words ending at or before the window start are emitted
//     unchanged.
//  3. The correction text is emitted as one token and the cursor advances
//     past every original word ending inside the window. A word straddling
//     the window end is not consumed.
//  4. Once all corrections are processed the remaining original words are
//     emitted.
//
// Tokens are joined with a single space, omitted next to tokens that are
// pure punctuation. Every correction counts as either applied or skipped and
// no original word is emitted twice.
func Merge(words []types.Word, corrections []Correction) MergeResult {
	sorted := make([]Correction, len(corrections))
	copy(sorted, corrections)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ClipStart < sorted[j].ClipStart
	})

	var (
		res    MergeResult
		tokens []string
		i      int
	)
	for _, c := range sorted {
		if !c.Apply {
			res.Skipped++
			continue
		}
		for i < len(words) && words[i].End <= c.ClipStart {
			tokens = append(tokens, words[i].Text)
			i++
		}
		tokens = append(tokens, c.Text)
		res.Applied++
		for i < len(words) && words[i].End <= c.ClipEnd {
			i++
		}
	}
	for ; i < len(words); i++ {
		tokens = append(tokens, words[i].Text)
	}

	res.Text = joinTokens(tokens)
	return res
}

// joinTokens joins tokens with single spaces, skipping the space when either
// neighbour is pure punctuation.
func joinTokens(tokens []string) string {
	if len(tokens) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(tokens[0])
	for k := 1; k < len(tokens); k++ {
		if !punctuationToken.MatchString(tokens[k-1]) && !punctuationToken.MatchString(tokens[k]) {
			b.WriteByte(' ')
		}
		b.WriteString(tokens[k])
	}
	return b.String()
}
