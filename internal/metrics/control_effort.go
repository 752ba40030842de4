package metrics

import (
	"math"

	"github.com/san-kum/stabsim/internal/dynamo"
)

// ControlEffort is the mean |u| over ticks where the controller ran.
type ControlEffort struct {
	name    string
	sum     float64
	samples int
}

func NewControlEffort() *ControlEffort {
	return &ControlEffort{
		name: "control_effort",
	}
}

func (c *ControlEffort) Name() string {
	return c.name
}

func (c *ControlEffort) Observe(s dynamo.Sample) {
	if s.Faulted {
		return
	}
	c.sum += math.Abs(s.Control)
	c.samples++
}

func (c *ControlEffort) Value() float64 {
	if c.samples == 0 {
		return 0
	}
	return c.sum / float64(c.samples)
}

func (c *ControlEffort) Reset() {
	c.sum = 0
	c.samples = 0
}

// PeakError is the largest |error| seen while the latch was normal.
type PeakError struct {
	peak float64
}

func NewPeakError() *PeakError { return &PeakError{} }

func (p *PeakError) Name() string { return "peak_error" }

func (p *PeakError) Observe(s dynamo.Sample) {
	if s.Faulted {
		return
	}
	p.peak = math.Max(p.peak, math.Abs(s.Error))
}

func (p *PeakError) Value() float64 { return p.peak }

func (p *PeakError) Reset() { p.peak = 0 }
