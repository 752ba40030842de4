// Package plant advances the stabilizer by one tick.
//
// [Step] is pure: it reads a configuration snapshot, the current state, the
// latch and the consumed disturbance, and returns the next state, latch and
// the history sample for the tick. It never panics for a validated config.
package plant

import (
	"github.com/san-kum/stabsim/internal/config"
	"github.com/san-kum/stabsim/internal/control"
	"github.com/san-kum/stabsim/internal/dynamo"
	"github.com/san-kum/stabsim/internal/protect"
)

// Step executes one tick. The sample is stamped with the logical time at
// the start of the tick, so the first sample of a run is at t=0.
func Step(cfg *config.Config, s dynamo.State, latch dynamo.FaultStatus, d dynamo.Disturbance) (dynamo.State, dynamo.FaultStatus, dynamo.Sample) {
	ref := cfg.Reference
	dt := cfg.Dt
	threshold := cfg.Threshold()

	output, measured := measure(cfg.Policy, s.Output, d.Total())
	errV := ref - measured

	next := dynamo.State{
		Tick:        s.Tick + 1,
		PrevError:   errV,
		FaultEnergy: s.FaultEnergy,
	}
	sample := dynamo.Sample{
		Tick:            s.Tick,
		T:               s.Elapsed(dt),
		Reference:       ref,
		Measured:        measured,
		Error:           errV,
		Inductive:       d.Inductive,
		Electromagnetic: d.Electromagnetic,
	}

	var l protect.Latch
	l.Restore(latch)

	if !l.Tripped() && cfg.Protection.TripMode == dynamo.TripInstantaneous {
		l.Trip(protect.Instantaneous(measured, ref, threshold))
	}
	if l.Tripped() {
		return faulted(next, l.Status(), sample)
	}

	terms := control.NewLaw(cfg).Compute(errV, s.PrevError, dt)
	sample.P, sample.D, sample.Control = terms.P, terms.D, terms.U

	switch cfg.Policy {
	case dynamo.DirectSettle:
		next.Output = cfg.InputVoltage + terms.U
	default:
		next.Output = clamp(output+(terms.U+d.Total())*dt, cfg.SatMin, cfg.SatMax)
	}

	if cfg.Protection.TripMode == dynamo.TripEnergy {
		fuse := protect.Fuse{
			Capacity:  cfg.Protection.FuseEnergy,
			Decay:     cfg.Protection.FuseDecay,
			Impedance: cfg.Protection.LoadImpedance,
		}
		energy, reason := fuse.Accumulate(s.FaultEnergy, next.Output, ref, threshold, dt)
		next.FaultEnergy = energy
		sample.FaultEnergy = energy
		if l.Trip(reason) {
			sample.P, sample.D, sample.Control = 0, 0, 0
			return faulted(next, l.Status(), sample)
		}
	}

	sample.Output = next.Output
	return next, l.Status(), sample
}

// measure applies the disturbance for the policy. Direct-settle perturbs
// the output itself; incremental only perturbs the feedback reading.
func measure(policy dynamo.PlantPolicy, output, disturbance float64) (float64, float64) {
	if policy == dynamo.DirectSettle {
		output += disturbance
		return output, output
	}
	return output, output + disturbance
}

func faulted(next dynamo.State, status dynamo.FaultStatus, sample dynamo.Sample) (dynamo.State, dynamo.FaultStatus, dynamo.Sample) {
	next.Output = 0
	sample.Output = 0
	sample.Faulted = true
	sample.FaultEnergy = next.FaultEnergy
	return next, status, sample
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
