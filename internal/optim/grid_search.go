// Package optim searches controller settings against a scripted scenario.
package optim

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/san-kum/stabsim/internal/automation"
	"github.com/san-kum/stabsim/internal/config"
	"github.com/san-kum/stabsim/internal/dynamo"
)

// ErrNoFeasible is returned when every combination tripped protection.
var ErrNoFeasible = errors.New("optim: every combination tripped")

// Objective scores a finished run. Lower is better.
type Objective func(res *automation.Result) float64

// MetricObjective scores by a named metric or "rms_error". Runs that end
// tripped score +Inf.
func MetricObjective(name string) Objective {
	return func(res *automation.Result) float64 {
		if res.Fault.Tripped() {
			return math.Inf(1)
		}
		if name == "rms_error" {
			return res.Summary.RMSError
		}
		v, ok := res.Metrics[name]
		if !ok {
			return math.Inf(1)
		}
		return v
	}
}

// Candidate is one evaluated parameter combination.
type Candidate struct {
	Params map[string]float64
	Score  float64
	Fault  dynamo.FaultStatus
}

type GridSearch struct {
	paramNames []string
	ranges     [][]float64
}

// NewGridSearch checks that every name is a settable parameter and has a
// non-empty range.
func NewGridSearch(params []string, ranges [][]float64) (*GridSearch, error) {
	if len(params) != len(ranges) {
		return nil, fmt.Errorf("%d parameters but %d ranges", len(params), len(ranges))
	}
	probe := config.DefaultConfig()
	for i, name := range params {
		if err := automation.SetParam(probe, name, 0); err != nil {
			return nil, err
		}
		if len(ranges[i]) == 0 {
			return nil, fmt.Errorf("empty range for %s", name)
		}
	}
	return &GridSearch{paramNames: params, ranges: ranges}, nil
}

// Search runs sc once per combination and returns the lowest score. Ties
// keep the earlier combination. Combinations that fail validation are
// skipped.
func (g *GridSearch) Search(ctx context.Context, sc *automation.Scenario, obj Objective, logger *logrus.Logger) (Candidate, error) {
	base, err := sc.BuildConfig()
	if err != nil {
		return Candidate{}, err
	}

	quiet := logrus.New()
	quiet.SetLevel(logrus.ErrorLevel)

	best := Candidate{Score: math.Inf(1)}
	err = g.searchRecursive(ctx, 0, map[string]float64{}, func(params map[string]float64) error {
		cfg := base.Clone()
		for name, v := range params {
			if err := automation.SetParam(cfg, name, v); err != nil {
				return err
			}
		}
		if err := cfg.Validate(); err != nil {
			if logger != nil {
				logger.WithField("params", params).Debugf("skipping: %v", err)
			}
			return nil
		}

		res, err := automation.RunWithConfig(ctx, sc, cfg, quiet)
		if err != nil {
			return err
		}
		score := obj(res)
		if logger != nil {
			logger.WithFields(logrus.Fields{
				"params": params,
				"score":  score,
				"fault":  res.Fault.String(),
			}).Debug("evaluated")
		}
		if score < best.Score {
			best = Candidate{Params: params, Score: score, Fault: res.Fault}
		}
		return nil
	})
	if err != nil {
		return Candidate{}, err
	}
	if best.Params == nil {
		return best, ErrNoFeasible
	}
	return best, nil
}

func (g *GridSearch) searchRecursive(
	ctx context.Context,
	depth int,
	current map[string]float64,
	eval func(map[string]float64) error,
) error {
	if depth == len(g.paramNames) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return eval(current)
	}

	paramName := g.paramNames[depth]
	for _, val := range g.ranges[depth] {
		newParams := make(map[string]float64, len(current)+1)
		for k, v := range current {
			newParams[k] = v
		}
		newParams[paramName] = val

		if err := g.searchRecursive(ctx, depth+1, newParams, eval); err != nil {
			return err
		}
	}
	return nil
}
