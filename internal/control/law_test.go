package control

import (
	"math"
	"testing"

	"github.com/san-kum/stabsim/internal/config"
	"github.com/san-kum/stabsim/internal/dynamo"
)

func TestCompute(t *testing.T) {
	tests := []struct {
		name    string
		law     Law
		err     float64
		prevErr float64
		want    Terms
	}{
		{"p only", Law{Mode: dynamo.ModeP, Kp: 0.5, Kd: 0.045}, 10, 0, Terms{P: 5, U: 5}},
		{"p ignores kd", Law{Mode: dynamo.ModeP, Kp: 0.5, Kd: 1}, 10, -10, Terms{P: 5, U: 5}},
		{"pd steady", Law{Mode: dynamo.ModePD, Kp: 0.5, Kd: 0.045}, 4, 4, Terms{P: 2, U: 2}},
		{"pd rising", Law{Mode: dynamo.ModePD, Kp: 0.5, Kd: 0.045}, 10, 0, Terms{P: 5, D: 4.5, U: 9.5}},
		{"zero error", Law{Mode: dynamo.ModePD, Kp: 0.5, Kd: 0.045}, 0, 0, Terms{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.law.Compute(tt.err, tt.prevErr, 0.1)
			if math.Abs(got.P-tt.want.P) > 1e-9 || math.Abs(got.D-tt.want.D) > 1e-9 || math.Abs(got.U-tt.want.U) > 1e-9 {
				t.Errorf("Compute() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNewLaw(t *testing.T) {
	cfg := config.DefaultConfig()
	law := NewLaw(cfg)
	if law.Kp != cfg.Kp || law.Kd != cfg.Kd || law.Mode != cfg.Mode {
		t.Errorf("NewLaw() = %+v", law)
	}
}
