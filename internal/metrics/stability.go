package metrics

import (
	"math"

	"github.com/san-kum/stabsim/internal/dynamo"
)

// Stability is the fraction of ticks with the output inside the tolerance
// band around the reference. Faulted ticks count as violations.
type Stability struct {
	name       string
	threshold  float64
	violations int
	samples    int
}

func NewStability(threshold float64) *Stability {
	return &Stability{
		name:      "stability",
		threshold: threshold,
	}
}

func (s *Stability) Name() string {
	return s.name
}

func (s *Stability) Observe(sample dynamo.Sample) {
	s.samples++
	if sample.Faulted || math.Abs(sample.Error) > s.threshold {
		s.violations++
	}
}

func (s *Stability) Value() float64 {
	if s.samples == 0 {
		return 1.0
	}
	return 1.0 - float64(s.violations)/float64(s.samples)
}

func (s *Stability) Reset() {
	s.violations = 0
	s.samples = 0
}
