package control

import (
	"github.com/san-kum/stabsim/internal/config"
	"github.com/san-kum/stabsim/internal/dynamo"
)

// Terms is the breakdown of one control action.
type Terms struct {
	P float64
	D float64
	U float64
}

// Law is a P or PD control law. Kd is kept in P mode but not applied.
type Law struct {
	Mode dynamo.ControllerMode
	Kp   float64
	Kd   float64
}

func NewLaw(cfg *config.Config) Law {
	return Law{Mode: cfg.Mode, Kp: cfg.Kp, Kd: cfg.Kd}
}

func (l Law) Compute(err, prevErr, dt float64) Terms {
	p := l.Kp * err
	if l.Mode != dynamo.ModePD || dt <= 0 {
		return Terms{P: p, U: p}
	}
	d := l.Kd * (err - prevErr) / dt
	return Terms{P: p, D: d, U: p + d}
}
