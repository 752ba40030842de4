// Package control provides the feedback law of the stabilizer.
//
// [Law] computes the proportional and derivative terms from the current
// and previous tracking error:
//
//	u = Kp*e                      (mode p)
//	u = Kp*e + Kd*(e - prevErr)/dt (mode pd)
//
// # Usage
//
//	law := control.NewLaw(cfg)
//	terms := law.Compute(err, prevErr, cfg.Dt)
//
// A Law is rebuilt from the configuration snapshot every tick, so gain
// changes made through the engine apply on the next tick.
package control
