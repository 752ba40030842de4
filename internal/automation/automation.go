package automation

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/stabsim/internal/config"
	"github.com/san-kum/stabsim/internal/dynamo"
	"github.com/san-kum/stabsim/internal/engine"
	"github.com/san-kum/stabsim/internal/metrics"
)

// Scenario is a scripted headless run. Steps fire before the loop
// iteration named by At; paused iterations still count.
type Scenario struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Preset      string    `yaml:"preset"`
	Config      yaml.Node `yaml:"config"`
	Duration    float64   `yaml:"duration"`

	// InitialOutput starts the plant away from the reset baseline.
	InitialOutput *float64 `yaml:"initial_output,omitempty"`
	Steps         []Step   `yaml:"steps"`
}

// Step is one scripted command.
type Step struct {
	At     uint64  `yaml:"at"`
	Action Action  `yaml:"action"`
	Kind   string  `yaml:"kind,omitempty"`
	Value  float64 `yaml:"value,omitempty"`
}

type Action string

const (
	ActionTrigger      Action = "trigger"
	ActionInject       Action = "inject"
	ActionSetGain      Action = "set_gain"
	ActionSetReference Action = "set_reference"
	ActionSetInput     Action = "set_input"
	ActionSetAmplitude Action = "set_amplitude"
	ActionSetMode      Action = "set_mode"
	ActionPause        Action = "pause"
	ActionResume       Action = "resume"
	ActionReset        Action = "reset"
)

// Result is the outcome of a scenario run.
type Result struct {
	Name    string
	Config  *config.Config
	Fault   dynamo.FaultStatus
	Samples []dynamo.Sample
	Metrics map[string]float64
	Summary metrics.Summary
}

// LoadScenario loads a scenario from a YAML file
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScenario(data)
}

func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	if sc.Duration <= 0 {
		return nil, fmt.Errorf("scenario %q: duration must be positive", sc.Name)
	}
	return &sc, nil
}

// BuildConfig resolves the preset and applies the inline overrides.
func (sc *Scenario) BuildConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if sc.Preset != "" {
		cfg = config.GetPreset(sc.Preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset %q", sc.Preset)
		}
	}
	if !sc.Config.IsZero() {
		if err := sc.Config.Decode(cfg); err != nil {
			return nil, fmt.Errorf("scenario %q config: %w", sc.Name, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Ticks is the number of loop iterations for cfg's timestep.
func (sc *Scenario) Ticks(cfg *config.Config) int {
	return int(sc.Duration/cfg.Dt + 0.5)
}

// RunScenario executes sc synchronously and deterministically.
func RunScenario(ctx context.Context, sc *Scenario, logger *logrus.Logger, opts ...engine.Option) (*Result, error) {
	cfg, err := sc.BuildConfig()
	if err != nil {
		return nil, err
	}
	return RunWithConfig(ctx, sc, cfg, logger, opts...)
}

// RunWithConfig executes sc against cfg instead of the scenario's own
// configuration.
func RunWithConfig(ctx context.Context, sc *Scenario, cfg *config.Config, logger *logrus.Logger, opts ...engine.Option) (*Result, error) {
	// Results cover the whole run, not the live retention window.
	cfg = cfg.Clone()
	cfg.HistorySeconds = 0

	if sc.InitialOutput != nil {
		v := *sc.InitialOutput
		if err := dynamo.CheckRange("initial_output", v, 0, config.MaxVoltage, false); err != nil {
			return nil, fmt.Errorf("scenario %q: %w", sc.Name, err)
		}
		opts = append([]engine.Option{engine.WithInitialOutput(v)}, opts...)
	}
	if logger != nil {
		opts = append([]engine.Option{engine.WithLogger(logger)}, opts...)
	}
	e, err := engine.New(cfg, opts...)
	if err != nil {
		return nil, err
	}

	byTick := make(map[uint64][]Step, len(sc.Steps))
	for _, st := range sc.Steps {
		byTick[st.At] = append(byTick[st.At], st)
	}

	n := sc.Ticks(cfg)
	for i := 0; i < n; i++ {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for _, st := range byTick[uint64(i)] {
			if err := apply(e, st); err != nil {
				return nil, fmt.Errorf("scenario %q step at %d: %w", sc.Name, st.At, err)
			}
		}
		e.Tick()
	}

	samples := e.HistoryWindow(dynamo.Window{})
	tolerance := cfg.Threshold()
	return &Result{
		Name:    sc.Name,
		Config:  e.ConfigSnapshot(),
		Fault:   e.FaultStatus(),
		Samples: samples,
		Metrics: metrics.Evaluate(metrics.Standard(tolerance), samples),
		Summary: metrics.Summarize(samples, tolerance),
	}, nil
}

func apply(e *engine.Engine, st Step) error {
	switch st.Action {
	case ActionTrigger, ActionInject, ActionSetAmplitude:
		kind, err := dynamo.ParseDisturbanceKind(st.Kind)
		if err != nil {
			return err
		}
		switch st.Action {
		case ActionTrigger:
			return e.TriggerDisturbance(kind)
		case ActionInject:
			return e.InjectDisturbance(kind, st.Value)
		default:
			return e.SetDisturbanceAmplitude(kind, st.Value)
		}
	case ActionSetGain:
		kind, err := dynamo.ParseGainKind(st.Kind)
		if err != nil {
			return err
		}
		return e.SetGain(kind, st.Value)
	case ActionSetReference:
		return e.SetReference(st.Value)
	case ActionSetInput:
		return e.SetInputVoltage(st.Value)
	case ActionSetMode:
		return e.SetMode(dynamo.ControllerMode(st.Kind))
	case ActionPause:
		e.Pause()
	case ActionResume:
		e.Resume()
	case ActionReset:
		e.Reset()
	default:
		return fmt.Errorf("%w: action %q", dynamo.ErrUnknownKind, st.Action)
	}
	return nil
}
