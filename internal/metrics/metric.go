// Package metrics scores stabilizer runs and exports live counters.
package metrics

import "github.com/san-kum/stabsim/internal/dynamo"

// Metric accumulates a scalar score over a sequence of samples.
type Metric interface {
	Name() string
	Observe(s dynamo.Sample)
	Value() float64
	Reset()
}

// Standard returns the metrics reported for every run.
func Standard(tolerance float64) []Metric {
	return []Metric{
		NewControlEffort(),
		NewStability(tolerance),
		NewPeakError(),
		NewFaultEnergy(),
		NewTrips(),
	}
}

// Evaluate feeds samples through ms and returns their values by name.
func Evaluate(ms []Metric, samples []dynamo.Sample) map[string]float64 {
	out := make(map[string]float64, len(ms))
	for _, m := range ms {
		m.Reset()
		for _, s := range samples {
			m.Observe(s)
		}
		out[m.Name()] = m.Value()
	}
	return out
}
