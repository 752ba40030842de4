package engine

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/stabsim/internal/config"
	"github.com/san-kum/stabsim/internal/dynamo"
	"github.com/san-kum/stabsim/internal/metrics"
)

func newTestEngine(t *testing.T, cfg *config.Config, opts ...Option) (*Engine, *logtest.Hook) {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	e, err := New(cfg, append([]Option{WithLogger(logger)}, opts...)...)
	require.NoError(t, err)
	return e, hook
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *config.Config)
	}{
		{"zero dt", func(c *config.Config) { c.Dt = 0 }},
		{"saturation inverted", func(c *config.Config) { c.SatMin, c.SatMax = 300, 100 }},
		{"dt truncates to zero period", func(c *config.Config) { c.Dt = 1e-10 }},
		{"history too large for dt", func(c *config.Config) { c.Dt = 1e-12 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.mutate(cfg)
			e, err := New(cfg)
			assert.Nil(t, e)
			assert.ErrorIs(t, err, dynamo.ErrInvalidConfig)
		})
	}
}

func TestEngineOwnsConfigCopy(t *testing.T) {
	cfg := config.DefaultConfig()
	e, _ := newTestEngine(t, cfg)

	cfg.Kp = 42
	assert.Equal(t, config.DefaultKp, e.ConfigSnapshot().Kp)

	snap := e.ConfigSnapshot()
	snap.Reference = 1
	assert.Equal(t, config.DefaultReference, e.ConfigSnapshot().Reference)
}

func TestSettersRejectAndRetain(t *testing.T) {
	tests := []struct {
		name    string
		call    func(e *Engine) error
		wantErr error
		field   string
	}{
		{"nan gain", func(e *Engine) error { return e.SetGain(dynamo.Proportional, math.NaN()) }, dynamo.ErrNonFinite, "kp"},
		{"negative gain", func(e *Engine) error { return e.SetGain(dynamo.Derivative, -1) }, dynamo.ErrOutOfRange, "kd"},
		{"unknown gain", func(e *Engine) error { return e.SetGain(dynamo.GainKind(7), 1) }, dynamo.ErrUnknownKind, "gain(7)"},
		{"zero reference", func(e *Engine) error { return e.SetReference(0) }, dynamo.ErrOutOfRange, "reference"},
		{"inf reference", func(e *Engine) error { return e.SetReference(math.Inf(1)) }, dynamo.ErrNonFinite, "reference"},
		{"huge input", func(e *Engine) error { return e.SetInputVoltage(5000) }, dynamo.ErrOutOfRange, "input_voltage"},
		{"huge amplitude", func(e *Engine) error { return e.SetDisturbanceAmplitude(dynamo.Inductive, 2000) }, dynamo.ErrOutOfRange, "inductive_amplitude"},
		{"unknown disturbance", func(e *Engine) error { return e.TriggerDisturbance(dynamo.DisturbanceKind(5)) }, dynamo.ErrUnknownKind, "disturbance"},
		{"nan injection", func(e *Engine) error { return e.InjectDisturbance(dynamo.Electromagnetic, math.NaN()) }, dynamo.ErrNonFinite, "electromagnetic"},
		{"unknown mode", func(e *Engine) error { return e.SetMode("pid") }, dynamo.ErrUnknownKind, "mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, hook := newTestEngine(t, config.DefaultConfig())
			before := e.ConfigSnapshot()

			err := tt.call(e)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)

			var ve *dynamo.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)

			assert.Equal(t, before, e.ConfigSnapshot())

			entry := hook.LastEntry()
			require.NotNil(t, entry)
			assert.Equal(t, logrus.WarnLevel, entry.Level)
			assert.Equal(t, tt.field, entry.Data["field"])
		})
	}
}

func TestSettersApply(t *testing.T) {
	e, _ := newTestEngine(t, config.DefaultConfig())

	require.NoError(t, e.SetGain(dynamo.Proportional, 0.9))
	require.NoError(t, e.SetGain(dynamo.Derivative, 0.1))
	require.NoError(t, e.SetReference(230))
	require.NoError(t, e.SetInputVoltage(0))
	require.NoError(t, e.SetDisturbanceAmplitude(dynamo.Electromagnetic, -25))
	require.NoError(t, e.SetMode(dynamo.ModeP))

	cfg := e.ConfigSnapshot()
	assert.Equal(t, 0.9, cfg.Kp)
	assert.Equal(t, 0.1, cfg.Kd)
	assert.Equal(t, 230.0, cfg.Reference)
	assert.Equal(t, 0.0, cfg.InputVoltage)
	assert.Equal(t, -25.0, cfg.Disturbance.EMAmplitude)
	assert.Equal(t, dynamo.ModeP, cfg.Mode)
}

func TestDisturbanceEdgeTrigger(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Protection.TripFraction = 1 // band wide enough to never trip
	e, _ := newTestEngine(t, cfg)

	e.Run(3)
	require.NoError(t, e.TriggerDisturbance(dynamo.Inductive))
	e.Run(3)

	h := e.HistoryWindow(dynamo.Window{})
	require.Len(t, h, 6)
	for i, s := range h {
		if i == 3 {
			assert.Equal(t, config.DefaultInductiveAmp, s.Inductive, "tick %d", i)
			continue
		}
		assert.Zero(t, s.Inductive, "tick %d", i)
	}
}

func TestPauseSkipsTicks(t *testing.T) {
	e, hook := newTestEngine(t, config.DefaultConfig())

	e.Run(2)
	e.Pause()
	assert.True(t, e.Paused())
	assert.Equal(t, "engine paused", hook.LastEntry().Message)

	require.NoError(t, e.InjectDisturbance(dynamo.Inductive, 5))
	_, ok := e.Tick()
	assert.False(t, ok)
	assert.Equal(t, 0, e.Run(10))
	assert.Equal(t, uint64(2), e.State().Tick)
	assert.Len(t, e.HistoryWindow(dynamo.Window{}), 2)

	// the pending disturbance survives the pause
	assert.False(t, e.TogglePause())
	s, ok := e.Tick()
	require.True(t, ok)
	assert.Equal(t, 5.0, s.Inductive)
	assert.Equal(t, "engine resumed", hook.Entries[len(hook.Entries)-1].Message)
}

func TestStartPaused(t *testing.T) {
	e, _ := newTestEngine(t, config.DefaultConfig(), StartPaused())
	assert.True(t, e.Paused())
	_, ok := e.Tick()
	assert.False(t, ok)

	e.Resume()
	_, ok = e.Tick()
	assert.True(t, ok)
}

func TestTripAndResetAreLogged(t *testing.T) {
	e, hook := newTestEngine(t, config.DefaultConfig())
	require.NoError(t, e.InjectDisturbance(dynamo.Inductive, 200))
	e.Run(3)

	var trips []*logrus.Entry
	for i := range hook.AllEntries() {
		entry := hook.AllEntries()[i]
		if entry.Message == "protection tripped" {
			trips = append(trips, entry)
		}
	}
	require.Len(t, trips, 1)
	assert.Equal(t, logrus.WarnLevel, trips[0].Level)
	assert.Equal(t, "fuse_blown", trips[0].Data["reason"])
	assert.Equal(t, uint64(0), trips[0].Data["tick"])

	e.Reset()
	last := hook.LastEntry()
	assert.Equal(t, "engine reset", last.Message)
	assert.Equal(t, logrus.InfoLevel, last.Level)
	assert.Equal(t, "tripped(fuse_blown)", last.Data["previous"])
}

func TestRecorderWiring(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := metrics.NewRecorder(reg)
	require.NoError(t, err)

	e, _ := newTestEngine(t, config.DefaultConfig(), WithRecorder(rec))
	require.NoError(t, e.InjectDisturbance(dynamo.Inductive, 200))
	e.Run(4)
	_ = e.SetReference(-1)
	e.Reset()

	assert.Equal(t, 1.0, testutil.ToFloat64(rec.TripCounter(dynamo.FuseBlown)))

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				values[mf.GetName()] += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[mf.GetName()] = m.GetGauge().GetValue()
			}
		}
	}
	assert.Equal(t, 4.0, values["stabsim_ticks_total"])
	assert.Equal(t, 1.0, values["stabsim_trips_total"])
	assert.Equal(t, 1.0, values["stabsim_rejected_commands_total"])
	assert.Equal(t, 1.0, values["stabsim_resets_total"])
	assert.Equal(t, 0.0, values["stabsim_tripped"])
}

func script() map[uint64]func(e *Engine) {
	return map[uint64]func(e *Engine){
		5:  func(e *Engine) { _ = e.TriggerDisturbance(dynamo.Inductive) },
		12: func(e *Engine) { _ = e.InjectDisturbance(dynamo.Electromagnetic, -7) },
		20: func(e *Engine) { _ = e.SetGain(dynamo.Proportional, 0.8) },
		30: func(e *Engine) { _ = e.SetReference(225) },
		45: func(e *Engine) { _ = e.InjectDisturbance(dynamo.Inductive, 150) },
		60: func(e *Engine) { e.Reset() },
	}
}

func replay(t *testing.T, policy dynamo.PlantPolicy) []dynamo.Sample {
	cfg := config.DefaultConfig()
	cfg.Policy = policy
	e, _ := newTestEngine(t, cfg)

	steps := script()
	for i := uint64(0); i < 100; i++ {
		if fn, ok := steps[i]; ok {
			fn(e)
		}
		e.Tick()
	}
	return e.HistoryWindow(dynamo.Window{})
}

func TestDeterminism(t *testing.T) {
	for _, policy := range []dynamo.PlantPolicy{dynamo.Incremental, dynamo.DirectSettle} {
		t.Run(string(policy), func(t *testing.T) {
			a := replay(t, policy)
			b := replay(t, policy)
			require.Len(t, a, 100)
			if diff := cmp.Diff(a, b); diff != "" {
				t.Errorf("runs diverged (-first +second):\n%s", diff)
			}
		})
	}
}

func TestSaturationWhileNormal(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.SatMin, cfg.SatMax = 200, 240
	cfg.Protection.TripFraction = 5
	e, _ := newTestEngine(t, cfg)

	for i := 0; i < 200; i++ {
		switch i % 17 {
		case 0:
			_ = e.InjectDisturbance(dynamo.Inductive, 900)
		case 8:
			_ = e.InjectDisturbance(dynamo.Electromagnetic, -900)
		}
		e.Tick()
	}
	for _, s := range e.HistoryWindow(dynamo.Window{}) {
		require.False(t, s.Faulted)
		assert.GreaterOrEqual(t, s.Output, cfg.SatMin)
		assert.LessOrEqual(t, s.Output, cfg.SatMax)
	}
}

func TestConcurrentCommandsDuringTicks(t *testing.T) {
	e, _ := newTestEngine(t, config.DefaultConfig())
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.Run(500)
	}()

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				switch (i + w) % 6 {
				case 0:
					_ = e.SetGain(dynamo.Proportional, float64(i%10)/10)
				case 1:
					_ = e.TriggerDisturbance(dynamo.Electromagnetic)
				case 2:
					_ = e.FaultStatus()
				case 3:
					_ = e.HistoryWindow(dynamo.LastSeconds(1))
				case 4:
					e.Reset()
				case 5:
					_ = e.ConfigSnapshot()
				}
			}
		}(w)
	}
	wg.Wait()

	h := e.HistoryWindow(dynamo.Window{})
	require.Len(t, h, 500)
	for i := 1; i < len(h); i++ {
		assert.Equal(t, h[i-1].Tick+1, h[i].Tick)
	}
}
