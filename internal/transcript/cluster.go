// Package transcript implements the planning and reconciliation logic between
// the two transcription passes: finding low-confidence regions worth
// re-hearing, judging the corrections the audio language model proposes, and
// merging accepted corrections into the final text.
//
// Everything here is pure computation over the word timeline produced by the
// first pass; nothing touches the store or the network.
package transcript

import (
	"math"

	"github.com/MrWong99/rescribe/pkg/types"
)

// Clustering defaults. The window is deliberately large relative to the
// proximity threshold so that neighbouring uncertainties share one
// second-pass call, which is the expensive leg of the pipeline.
const (
	DefaultConfidenceThreshold = 0.60
	DefaultProximityThreshold  = 5.0
	DefaultCorrectionWindow    = 20.0
)

// Cluster is a group of low-confidence words close enough in time to be
// re-transcribed from a single audio clip.
type Cluster struct {
	// Words are the low-confidence words of the cluster in timeline order.
	Words []types.Word

	// StartTime is the start of the first word, EndTime the end of the last.
	StartTime float64
	EndTime   float64

	// CenterTime anchors the clip window. For a merged cluster it is the
	// midpoint of the two merged centers, not a value recomputed from Words.
	CenterTime float64

	// AverageConfidence is the mean probability across Words.
	AverageConfidence float64

	// ClipStart and ClipEnd delimit the audio window to cut. ClipStart is
	// floored at zero. ClipEnd may extend past the end of the file; the
	// slicer emits a shorter clip in that case.
	ClipStart float64
	ClipEnd   float64
}

// Clusterer finds clusters of low-confidence words in a word timeline.
type Clusterer struct {
	confidenceThreshold float64
	proximityThreshold  float64
	correctionWindow    float64
}

// Option is a functional option for Clusterer.
type Option func(*Clusterer)

// WithConfidenceThreshold sets the probability below which a word counts as
// uncertain.
func WithConfidenceThreshold(t float64) Option {
	return func(c *Clusterer) {
		c.confidenceThreshold = t
	}
}

// WithProximityThreshold sets the maximum gap in seconds between consecutive
// uncertain words that still share a cluster.
func WithProximityThreshold(p float64) Option {
	return func(c *Clusterer) {
		c.proximityThreshold = p
	}
}

// WithCorrectionWindow sets the length in seconds of the clip cut around each
// cluster center.
func WithCorrectionWindow(w float64) Option {
	return func(c *Clusterer) {
		c.correctionWindow = w
	}
}

// NewClusterer creates a Clusterer with the default thresholds.
func NewClusterer(opts ...Option) *Clusterer {
	c := &Clusterer{
		confidenceThreshold: DefaultConfidenceThreshold,
		proximityThreshold:  DefaultProximityThreshold,
		correctionWindow:    DefaultCorrectionWindow,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Cluster groups the low-confidence words of a timeline into clip windows.
// The input must be in timeline order. The returned clusters are in order
// and their clip windows do not overlap. A timeline with no word below the
// threshold yields no clusters.
func (c *Clusterer) Cluster(words []types.Word) []Cluster {
	var uncertain []types.Word
	for _, w := range words {
		if w.Probability < c.confidenceThreshold {
			uncertain = append(uncertain, w)
		}
	}
	if len(uncertain) == 0 {
		return nil
	}

	// Group by proximity. A zero gap, as with back-to-back words, stays in
	// the same group.
	var groups [][]types.Word
	group := []types.Word{uncertain[0]}
	for _, w := range uncertain[1:] {
		last := group[len(group)-1]
		if w.Start-last.End <= c.proximityThreshold {
			group = append(group, w)
			continue
		}
		groups = append(groups, group)
		group = []types.Word{w}
	}
	groups = append(groups, group)

	clusters := make([]Cluster, 0, len(groups))
	for _, g := range groups {
		clusters = append(clusters, c.annotate(g))
	}
	return mergeOverlaps(clusters)
}

// annotate computes the time span, center and clip window of one group.
func (c *Clusterer) annotate(words []types.Word) Cluster {
	start := words[0].Start
	end := words[len(words)-1].End
	center := (start + end) / 2

	sum := 0.0
	for _, w := range words {
		sum += w.Probability
	}

	clipStart := center - c.correctionWindow/2
	if clipStart < 0 {
		clipStart = 0
	}

	return Cluster{
		Words:             words,
		StartTime:         start,
		EndTime:           end,
		CenterTime:        center,
		AverageConfidence: sum / float64(len(words)),
		ClipStart:         clipStart,
		ClipEnd:           center + c.correctionWindow/2,
	}
}

// mergeOverlaps folds clusters whose clip windows touch or overlap into one,
// left to right.
func mergeOverlaps(clusters []Cluster) []Cluster {
	out := make([]Cluster, 0, len(clusters))
	current := clusters[0]
	for _, next := range clusters[1:] {
		if current.ClipEnd >= next.ClipStart {
			current = mergeClusters(current, next)
			continue
		}
		out = append(out, current)
		current = next
	}
	return append(out, current)
}

// mergeClusters combines two overlapping clusters. The merged CenterTime is
// the midpoint of the two centers and the merged AverageConfidence is the
// mean weighted by word count.
func mergeClusters(a, b Cluster) Cluster {
	words := make([]types.Word, 0, len(a.Words)+len(b.Words))
	words = append(words, a.Words...)
	words = append(words, b.Words...)

	na := float64(len(a.Words))
	nb := float64(len(b.Words))

	return Cluster{
		Words:             words,
		StartTime:         math.Min(a.StartTime, b.StartTime),
		EndTime:           math.Max(a.EndTime, b.EndTime),
		CenterTime:        (a.CenterTime + b.CenterTime) / 2,
		AverageConfidence: (a.AverageConfidence*na + b.AverageConfidence*nb) / (na + nb),
		ClipStart:         math.Min(a.ClipStart, b.ClipStart),
		ClipEnd:           math.Max(a.ClipEnd, b.ClipEnd),
	}
}
