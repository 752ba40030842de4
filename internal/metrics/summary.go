package metrics

import (
	"math"

	"github.com/san-kum/stabsim/internal/dynamo"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary is the statistical digest of a run's tracking error and output.
type Summary struct {
	Samples    int     `json:"samples"`
	Faulted    int     `json:"faulted"`
	MeanError  float64 `json:"mean_error"`
	StdError   float64 `json:"std_error"`
	RMSError   float64 `json:"rms_error"`
	MeanOutput float64 `json:"mean_output"`
	MinOutput  float64 `json:"min_output"`
	MaxOutput  float64 `json:"max_output"`
	// SettlingTime is the first t after which |error| stays within the
	// tolerance. -1 when the run never settles.
	SettlingTime float64 `json:"settling_time"`
}

// Summarize digests the non-faulted samples. Faulted ticks are only counted.
func Summarize(samples []dynamo.Sample, tolerance float64) Summary {
	sum := Summary{Samples: len(samples), SettlingTime: -1}

	errs := make([]float64, 0, len(samples))
	outs := make([]float64, 0, len(samples))
	for _, s := range samples {
		if s.Faulted {
			sum.Faulted++
			continue
		}
		errs = append(errs, s.Error)
		outs = append(outs, s.Output)
	}
	if len(errs) == 0 {
		return sum
	}

	sum.MeanError, sum.StdError = stat.MeanStdDev(errs, nil)
	if len(errs) == 1 {
		sum.StdError = 0
	}
	sum.RMSError = floats.Norm(errs, 2) / math.Sqrt(float64(len(errs)))
	sum.MeanOutput = stat.Mean(outs, nil)
	sum.MinOutput = floats.Min(outs)
	sum.MaxOutput = floats.Max(outs)
	sum.SettlingTime = settlingTime(samples, tolerance)
	return sum
}

func settlingTime(samples []dynamo.Sample, tolerance float64) float64 {
	settled := -1.0
	for _, s := range samples {
		inside := !s.Faulted && math.Abs(s.Error) <= tolerance
		switch {
		case !inside:
			settled = -1
		case settled < 0:
			settled = s.T
		}
	}
	return settled
}
