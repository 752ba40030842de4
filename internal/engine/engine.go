// Package engine runs the stabilizer: a background loop stepping the plant
// at a fixed period and a thread-safe facade for commands and queries.
//
// Each mutable aggregate has its own lock: configuration, plant state with
// the latch, pending disturbances, history, pause flag. No method holds two
// of them at once. Whole ticks are serialized by a separate tick mutex so
// that Reset never lands between a tick's read and write of the state.
//
// Lock order: tickMu is always taken first and may be held while one
// aggregate lock is taken and released. Aggregate locks never nest and are
// never held while acquiring tickMu.
package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/san-kum/stabsim/internal/config"
	"github.com/san-kum/stabsim/internal/disturb"
	"github.com/san-kum/stabsim/internal/dynamo"
	"github.com/san-kum/stabsim/internal/history"
	"github.com/san-kum/stabsim/internal/metrics"
	"github.com/san-kum/stabsim/internal/protect"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

type Engine struct {
	tickMu sync.Mutex

	cfgMu sync.RWMutex
	cfg   *config.Config

	stateMu sync.RWMutex
	state   dynamo.State
	latch   protect.Latch

	injector *disturb.Injector
	history  *history.Buffer

	pauseMu  sync.Mutex
	paused   bool
	resumeCh chan struct{}

	runMu  sync.Mutex
	cancel func()
	done   chan struct{}

	period   time.Duration
	clock    clock.WithTicker
	logger   *logrus.Logger
	recorder *metrics.Recorder
}

type Option func(*Engine)

func WithLogger(l *logrus.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock paces the loop from c instead of the wall clock.
func WithClock(c clock.WithTicker) Option {
	return func(e *Engine) { e.clock = c }
}

func WithRecorder(r *metrics.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithInitialOutput overrides the output voltage at construction.
func WithInitialOutput(v float64) Option {
	return func(e *Engine) { e.state.Output = v }
}

// StartPaused builds the engine in the paused state.
func StartPaused() Option {
	return func(e *Engine) {
		e.paused = true
		e.resumeCh = make(chan struct{})
	}
}

// New validates cfg and builds an engine with output at the configured
// baseline. The engine keeps its own copy of cfg.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	own := cfg.Clone()

	e := &Engine{
		cfg:      own,
		state:    dynamo.State{Output: own.Baseline()},
		injector: disturb.New(),
		history:  history.New(own.HistoryCapacity()),
		period:   own.Period(),
		clock:    clock.RealClock{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logrus.New()
		e.logger.SetLevel(logrus.WarnLevel)
	}
	return e, nil
}

func (e *Engine) reject(err error) error {
	var ve *dynamo.ValidationError
	if errors.As(err, &ve) {
		e.logger.WithFields(logrus.Fields{
			"field": ve.Field,
			"value": ve.Value,
		}).Warnf("rejected command: %v", ve.Wrapped)
		e.recorder.Rejected(ve.Field)
	}
	return err
}

func (e *Engine) updateConfig(fn func(c *config.Config)) {
	e.cfgMu.Lock()
	fn(e.cfg)
	e.cfgMu.Unlock()
}

func (e *Engine) SetGain(kind dynamo.GainKind, v float64) error {
	if kind != dynamo.Proportional && kind != dynamo.Derivative {
		return e.reject(&dynamo.ValidationError{Field: kind.String(), Value: v, Wrapped: dynamo.ErrUnknownKind})
	}
	if err := dynamo.CheckRange(kind.String(), v, 0, config.MaxGain, false); err != nil {
		return e.reject(err)
	}
	e.updateConfig(func(c *config.Config) {
		if kind == dynamo.Proportional {
			c.Kp = v
		} else {
			c.Kd = v
		}
	})
	return nil
}

func (e *Engine) SetReference(v float64) error {
	if err := dynamo.CheckRange("reference", v, 0, config.MaxVoltage, true); err != nil {
		return e.reject(err)
	}
	e.updateConfig(func(c *config.Config) { c.Reference = v })
	return nil
}

// SetInputVoltage sets the commanded supply used by direct-settle.
func (e *Engine) SetInputVoltage(v float64) error {
	if err := dynamo.CheckRange("input_voltage", v, 0, config.MaxVoltage, false); err != nil {
		return e.reject(err)
	}
	e.updateConfig(func(c *config.Config) { c.InputVoltage = v })
	return nil
}

func (e *Engine) SetMode(m dynamo.ControllerMode) error {
	if !m.Valid() {
		return e.reject(&dynamo.ValidationError{Field: "mode", Wrapped: dynamo.ErrUnknownKind})
	}
	e.updateConfig(func(c *config.Config) { c.Mode = m })
	return nil
}

func (e *Engine) SetDisturbanceAmplitude(kind dynamo.DisturbanceKind, v float64) error {
	field := kind.String() + "_amplitude"
	if !kind.Valid() {
		return e.reject(&dynamo.ValidationError{Field: field, Value: v, Wrapped: dynamo.ErrUnknownKind})
	}
	if err := dynamo.CheckRange(field, v, -config.MaxAmplitude, config.MaxAmplitude, false); err != nil {
		return e.reject(err)
	}
	e.updateConfig(func(c *config.Config) {
		if kind == dynamo.Electromagnetic {
			c.Disturbance.EMAmplitude = v
		} else {
			c.Disturbance.InductiveAmplitude = v
		}
	})
	return nil
}

// TriggerDisturbance arms kind at its configured amplitude for the next tick.
func (e *Engine) TriggerDisturbance(kind dynamo.DisturbanceKind) error {
	if !kind.Valid() {
		return e.reject(&dynamo.ValidationError{Field: "disturbance", Wrapped: dynamo.ErrUnknownKind})
	}
	e.cfgMu.RLock()
	amp := e.cfg.Amplitude(kind)
	e.cfgMu.RUnlock()

	e.injector.Trigger(kind, amp)
	return nil
}

// InjectDisturbance arms kind with an explicit magnitude for the next tick.
func (e *Engine) InjectDisturbance(kind dynamo.DisturbanceKind, v float64) error {
	field := kind.String()
	if !kind.Valid() {
		return e.reject(&dynamo.ValidationError{Field: "disturbance", Value: v, Wrapped: dynamo.ErrUnknownKind})
	}
	if err := dynamo.CheckRange(field, v, -config.MaxAmplitude, config.MaxAmplitude, false); err != nil {
		return e.reject(err)
	}
	e.injector.Trigger(kind, v)
	return nil
}

// DisturbancePending reports whether a one-shot of kind waits for the
// next tick.
func (e *Engine) DisturbancePending(kind dynamo.DisturbanceKind) bool {
	return e.injector.Pending(kind)
}

// Reset clears the latch and restores the baseline output. History and
// logical time are kept.
func (e *Engine) Reset() {
	e.cfgMu.RLock()
	baseline := e.cfg.Baseline()
	e.cfgMu.RUnlock()

	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	e.stateMu.Lock()
	prev := e.latch.Status()
	e.latch.Reset()
	e.state.Output = baseline
	e.state.PrevError = 0
	e.state.FaultEnergy = 0
	tick := e.state.Tick
	e.stateMu.Unlock()

	e.recorder.Reset()
	e.logger.WithFields(logrus.Fields{
		"previous": prev.String(),
		"output":   baseline,
		"tick":     tick,
	}).Info("engine reset")
}

func (e *Engine) Pause() { e.setPaused(func(bool) bool { return true }) }

func (e *Engine) Resume() { e.setPaused(func(bool) bool { return false }) }

// TogglePause flips the pause flag and returns the new value.
func (e *Engine) TogglePause() bool {
	return e.setPaused(func(p bool) bool { return !p })
}

func (e *Engine) setPaused(next func(bool) bool) bool {
	e.pauseMu.Lock()
	defer e.pauseMu.Unlock()

	want := next(e.paused)
	if want == e.paused {
		return want
	}
	e.paused = want
	if want {
		e.resumeCh = make(chan struct{})
		e.logger.Info("engine paused")
	} else {
		close(e.resumeCh)
		e.resumeCh = nil
		e.logger.Info("engine resumed")
	}
	return want
}

func (e *Engine) Paused() bool {
	e.pauseMu.Lock()
	defer e.pauseMu.Unlock()
	return e.paused
}

// pauseWait returns a channel closed on resume, or nil when running.
func (e *Engine) pauseWait() <-chan struct{} {
	e.pauseMu.Lock()
	defer e.pauseMu.Unlock()
	if !e.paused {
		return nil
	}
	return e.resumeCh
}

func (e *Engine) FaultStatus() dynamo.FaultStatus {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.latch.Status()
}

func (e *Engine) State() dynamo.State {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state
}

// ConfigSnapshot returns a copy of the live configuration.
func (e *Engine) ConfigSnapshot() *config.Config {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg.Clone()
}

func (e *Engine) HistoryWindow(w dynamo.Window) []dynamo.Sample {
	return e.history.Window(w)
}

// LastSample returns the most recent history record.
func (e *Engine) LastSample() (dynamo.Sample, bool) {
	return e.history.Last()
}

// Logger exposes the engine logger for components built around it.
func (e *Engine) Logger() *logrus.Logger { return e.logger }
