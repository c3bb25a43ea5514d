package workflow

import (
	"math"
	"math/rand/v2"

	"github.com/edi-forensics/hwid-console/internal/api"
)

// Strength buckets a similarity score for display.
type Strength int

const (
	StrengthWeak Strength = iota
	StrengthModerate
	StrengthStrong
)

func (s Strength) String() string {
	switch s {
	case StrengthStrong:
		return "strong"
	case StrengthModerate:
		return "moderate"
	default:
		return "weak"
	}
}

// StrengthOf buckets score: above 0.8 strong, above 0.6 moderate.
func StrengthOf(score float64) Strength {
	switch {
	case score > 0.8:
		return StrengthStrong
	case score > 0.6:
		return StrengthModerate
	default:
		return StrengthWeak
	}
}

// RadarPoint is a decorative plot position for one match.
type RadarPoint struct {
	Match    api.MatchResult
	X, Y     float64
	Size     float64
	Strength Strength
}

// RadarPoints scatters matches inside the 40..60 box of a 0..100 radar. The
// positions are random and carry no meaning.
func RadarPoints(matches []api.MatchResult, rng *rand.Rand) []RadarPoint {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	out := make([]RadarPoint, 0, len(matches))
	for _, m := range matches {
		out = append(out, RadarPoint{
			Match:    m,
			X:        40 + rng.Float64()*20,
			Y:        40 + rng.Float64()*20,
			Size:     math.Max(4, m.SimilarityScore*12),
			Strength: StrengthOf(m.SimilarityScore),
		})
	}
	return out
}
