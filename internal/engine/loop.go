package engine

import (
	"context"
	"time"

	"github.com/san-kum/stabsim/internal/dynamo"
	"github.com/san-kum/stabsim/internal/plant"
	"github.com/sirupsen/logrus"
)

// Period is the wall-clock interval between ticks.
func (e *Engine) Period() time.Duration {
	return e.period
}

// Tick executes one step synchronously. It returns false without touching
// any state when the engine is paused.
func (e *Engine) Tick() (dynamo.Sample, bool) {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	if e.Paused() {
		return dynamo.Sample{}, false
	}

	cfg := e.ConfigSnapshot()
	dist := e.injector.Consume()

	e.stateMu.RLock()
	state, latch := e.state, e.latch.Status()
	e.stateMu.RUnlock()

	next, status, sample := plant.Step(cfg, state, latch, dist)

	e.stateMu.Lock()
	e.state = next
	e.latch.Restore(status)
	e.stateMu.Unlock()

	e.history.Append(sample)
	e.recorder.ObserveTick(sample)

	if status.Tripped() && !latch.Tripped() {
		e.recorder.Trip(status.Reason)
		e.logger.WithFields(logrus.Fields{
			"reason":   status.Reason.String(),
			"tick":     sample.Tick,
			"measured": sample.Measured,
			"energy":   sample.FaultEnergy,
		}).Warn("protection tripped")
	}
	if e.logger.IsLevelEnabled(logrus.TraceLevel) {
		e.logger.WithFields(logrus.Fields{
			"tick":    sample.Tick,
			"output":  sample.Output,
			"error":   sample.Error,
			"control": sample.Control,
		}).Trace("tick")
	}
	return sample, true
}

// Run executes n ticks synchronously, skipping none. Paused engines return
// immediately with the number of ticks executed.
func (e *Engine) Run(n int) int {
	for i := 0; i < n; i++ {
		if _, ok := e.Tick(); !ok {
			return i
		}
	}
	return n
}

// Start launches the background loop. It runs until ctx is done or Stop
// is called.
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.done != nil {
		select {
		case <-e.done:
		default:
			return dynamo.ErrEngineRunning
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.cancel, e.done = cancel, done

	go e.loop(ctx, done)
	return nil
}

// Stop cancels the loop and waits for the in-flight tick to finish.
func (e *Engine) Stop() error {
	e.runMu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.runMu.Unlock()

	if done == nil {
		return dynamo.ErrEngineStopped
	}
	cancel()
	<-done
	return nil
}

// Running reports whether the background loop is active.
func (e *Engine) Running() bool {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.done == nil {
		return false
	}
	select {
	case <-e.done:
		return false
	default:
		return true
	}
}

func (e *Engine) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := e.clock.NewTicker(e.Period())
	defer ticker.Stop()

	e.logger.WithField("period", e.Period()).Debug("loop started")
	defer e.logger.Debug("loop stopped")

	for {
		if resumed := e.pauseWait(); resumed != nil {
			select {
			case <-ctx.Done():
				return
			case <-resumed:
				continue
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			e.Tick()
		}
	}
}
