package automation

import (
	"context"
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/san-kum/stabsim/internal/config"
	"github.com/san-kum/stabsim/internal/dynamo"
	"github.com/san-kum/stabsim/internal/metrics"
)

// ParameterSweep runs a scenario across a range of one parameter.
type ParameterSweep struct {
	ParamName string
	ParamMin  float64
	ParamMax  float64
	NumSteps  int
	// Workers bounds concurrent runs; 0 uses GOMAXPROCS.
	Workers int
}

// SweepResult holds results from a parameter sweep
type SweepResult struct {
	ParamValue float64
	Fault      dynamo.FaultStatus
	Metrics    map[string]float64
	Summary    metrics.Summary
}

// SetParam applies a named scalar to cfg.
func SetParam(cfg *config.Config, name string, v float64) error {
	switch name {
	case "kp":
		cfg.Kp = v
	case "kd":
		cfg.Kd = v
	case "reference":
		cfg.Reference = v
	case "input_voltage":
		cfg.InputVoltage = v
	case "trip_fraction":
		cfg.Protection.TripFraction = v
	case "fuse_energy":
		cfg.Protection.FuseEnergy = v
	case "load_impedance":
		cfg.Protection.LoadImpedance = v
	default:
		return fmt.Errorf("%w: parameter %q", dynamo.ErrUnknownKind, name)
	}
	return nil
}

// Values returns the evenly spaced parameter values of the sweep.
func (s *ParameterSweep) Values() []float64 {
	if s.NumSteps <= 1 {
		return []float64{s.ParamMin}
	}
	step := (s.ParamMax - s.ParamMin) / float64(s.NumSteps-1)
	out := make([]float64, s.NumSteps)
	for i := range out {
		out[i] = s.ParamMin + float64(i)*step
	}
	return out
}

// RunSweep executes sc once per parameter value in parallel. Results keep
// the order of Values. The first failing run cancels the rest.
func RunSweep(ctx context.Context, sweep *ParameterSweep, sc *Scenario, logger *logrus.Logger) ([]SweepResult, error) {
	base, err := sc.BuildConfig()
	if err != nil {
		return nil, err
	}
	values := sweep.Values()
	results := make([]SweepResult, len(values))

	workers := sweep.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	quiet := logrus.New()
	quiet.SetLevel(logrus.ErrorLevel)
	if logger != nil {
		quiet.SetOutput(logger.Out)
	}

	for i, v := range values {
		i, v := i, v
		g.Go(func() error {
			cfg := base.Clone()
			if err := SetParam(cfg, sweep.ParamName, v); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("%s=%g: %w", sweep.ParamName, v, err)
			}

			res, err := RunWithConfig(ctx, sc, cfg, quiet)
			if err != nil {
				return fmt.Errorf("%s=%g: %w", sweep.ParamName, v, err)
			}
			results[i] = SweepResult{
				ParamValue: v,
				Fault:      res.Fault,
				Metrics:    res.Metrics,
				Summary:    res.Summary,
			}

			if logger != nil {
				logger.WithFields(logrus.Fields{
					"param": sweep.ParamName,
					"value": v,
					"fault": res.Fault.String(),
				}).Infof("sweep %d/%d done", i+1, len(values))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
