package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/san-kum/stabsim/internal/dynamo"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	DefaultReference     = 220.0
	DefaultDt            = 0.1
	DefaultKp            = 0.5
	DefaultKd            = 0.045
	DefaultSatMin        = 0.0
	DefaultSatMax        = 440.0
	DefaultTripFraction  = 0.08
	DefaultFuseEnergy    = 0.5
	DefaultFuseDecay     = 0.05
	DefaultLoadImpedance = 100.0
	DefaultInductiveAmp  = 10.0
	DefaultEMAmp         = -10.0
	DefaultHistorySecs   = 120.0

	EnvPrefix = "STABSIM"
)

// Declared command domains. Values outside are rejected by the engine.
const (
	MaxGain      = 100.0
	MaxVoltage   = 1000.0
	MaxAmplitude = 1000.0

	// MaxHistorySamples bounds HistorySeconds/Dt.
	MaxHistorySamples = 1 << 20
)

// Config is the engine configuration. The engine keeps its own copy; use
// the engine's setters to change it at runtime.
type Config struct {
	Mode          dynamo.ControllerMode `yaml:"mode" mapstructure:"mode"`
	Kp            float64               `yaml:"kp" mapstructure:"kp"`
	Kd            float64               `yaml:"kd" mapstructure:"kd"`
	Reference     float64               `yaml:"reference" mapstructure:"reference"`
	InputVoltage  float64               `yaml:"input_voltage" mapstructure:"input_voltage"`
	Dt            float64               `yaml:"dt" mapstructure:"dt"`
	SatMin        float64               `yaml:"sat_min" mapstructure:"sat_min"`
	SatMax        float64               `yaml:"sat_max" mapstructure:"sat_max"`
	Policy        dynamo.PlantPolicy    `yaml:"policy" mapstructure:"policy"`
	ResetBaseline dynamo.ResetBaseline  `yaml:"reset_baseline" mapstructure:"reset_baseline"`

	Protection  ProtectionConfig  `yaml:"protection" mapstructure:"protection"`
	Disturbance DisturbanceConfig `yaml:"disturbance" mapstructure:"disturbance"`

	// HistorySeconds bounds the history ring. Zero keeps everything.
	HistorySeconds float64 `yaml:"history_seconds" mapstructure:"history_seconds"`
}

type ProtectionConfig struct {
	TripMode      dynamo.TripMode `yaml:"trip_mode" mapstructure:"trip_mode"`
	TripFraction  float64         `yaml:"trip_fraction" mapstructure:"trip_fraction"`
	FuseEnergy    float64         `yaml:"fuse_energy" mapstructure:"fuse_energy"`
	FuseDecay     float64         `yaml:"fuse_decay" mapstructure:"fuse_decay"`
	LoadImpedance float64         `yaml:"load_impedance" mapstructure:"load_impedance"`
}

type DisturbanceConfig struct {
	InductiveAmplitude float64 `yaml:"inductive_amplitude" mapstructure:"inductive_amplitude"`
	EMAmplitude        float64 `yaml:"em_amplitude" mapstructure:"em_amplitude"`
}

func DefaultConfig() *Config {
	return &Config{
		Mode:          dynamo.ModePD,
		Kp:            DefaultKp,
		Kd:            DefaultKd,
		Reference:     DefaultReference,
		InputVoltage:  DefaultReference,
		Dt:            DefaultDt,
		SatMin:        DefaultSatMin,
		SatMax:        DefaultSatMax,
		Policy:        dynamo.Incremental,
		ResetBaseline: dynamo.BaselineReference,
		Protection: ProtectionConfig{
			TripMode:      dynamo.TripInstantaneous,
			TripFraction:  DefaultTripFraction,
			FuseEnergy:    DefaultFuseEnergy,
			FuseDecay:     DefaultFuseDecay,
			LoadImpedance: DefaultLoadImpedance,
		},
		Disturbance: DisturbanceConfig{
			InductiveAmplitude: DefaultInductiveAmp,
			EMAmplitude:        DefaultEMAmp,
		},
		HistorySeconds: DefaultHistorySecs,
	}
}

// Threshold is the absolute trip band around the reference.
func (c *Config) Threshold() float64 {
	return c.Protection.TripFraction * c.Reference
}

// EffectiveKd is the derivative gain the control law actually applies.
func (c *Config) EffectiveKd() float64 {
	if c.Mode == dynamo.ModeP {
		return 0
	}
	return c.Kd
}

// Baseline is the output voltage restored by a reset.
func (c *Config) Baseline() float64 {
	if c.ResetBaseline == dynamo.BaselineInput {
		return c.InputVoltage
	}
	return c.Reference
}

// Amplitude returns the configured one-shot magnitude for a kind.
func (c *Config) Amplitude(kind dynamo.DisturbanceKind) float64 {
	if kind == dynamo.Electromagnetic {
		return c.Disturbance.EMAmplitude
	}
	return c.Disturbance.InductiveAmplitude
}

// Period is Dt as a wall-clock tick interval.
func (c *Config) Period() time.Duration {
	return time.Duration(c.Dt * float64(time.Second))
}

// HistoryCapacity converts HistorySeconds to a sample count; 0 is unbounded.
func (c *Config) HistoryCapacity() int {
	if c.HistorySeconds <= 0 {
		return 0
	}
	return int(c.HistorySeconds/c.Dt) + 1
}

// Validate checks construction-time invariants. Every violation is reported.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	for name, v := range map[string]float64{
		"kp": c.Kp, "kd": c.Kd, "reference": c.Reference, "input_voltage": c.InputVoltage,
		"dt": c.Dt, "sat_min": c.SatMin, "sat_max": c.SatMax,
		"trip_fraction": c.Protection.TripFraction, "fuse_energy": c.Protection.FuseEnergy,
		"fuse_decay": c.Protection.FuseDecay, "load_impedance": c.Protection.LoadImpedance,
		"inductive_amplitude": c.Disturbance.InductiveAmplitude, "em_amplitude": c.Disturbance.EMAmplitude,
		"history_seconds": c.HistorySeconds,
	} {
		if !dynamo.IsFinite(v) {
			add("%s must be finite, got %v", name, v)
		}
	}
	if len(errs) > 0 {
		return wrapInvalid(errs)
	}

	if c.Dt <= 0 {
		add("dt must be positive, got %f", c.Dt)
	} else if c.Period() <= 0 {
		add("dt %g is below the clock resolution", c.Dt)
	} else if c.HistorySeconds/c.Dt >= MaxHistorySamples {
		add("history_seconds/dt must be below %d samples, got %g", MaxHistorySamples, c.HistorySeconds/c.Dt)
	}
	if c.SatMin >= c.SatMax {
		add("sat_min (%f) must be below sat_max (%f)", c.SatMin, c.SatMax)
	}
	if !c.Mode.Valid() {
		add("unknown controller mode %q", c.Mode)
	}
	if !c.Policy.Valid() {
		add("unknown plant policy %q", c.Policy)
	}
	if !c.ResetBaseline.Valid() {
		add("unknown reset baseline %q", c.ResetBaseline)
	}
	if !c.Protection.TripMode.Valid() {
		add("unknown trip mode %q", c.Protection.TripMode)
	}
	if c.Kp < 0 || c.Kp > MaxGain || c.Kd < 0 || c.Kd > MaxGain {
		add("gains must be within [0, %g]", MaxGain)
	}
	if c.Reference <= 0 || c.Reference > MaxVoltage {
		add("reference must be within (0, %g], got %f", MaxVoltage, c.Reference)
	}
	if c.InputVoltage < 0 || c.InputVoltage > MaxVoltage {
		add("input_voltage must be within [0, %g], got %f", MaxVoltage, c.InputVoltage)
	}
	if c.Protection.TripFraction <= 0 {
		add("trip_fraction must be positive, got %f", c.Protection.TripFraction)
	}
	if c.Protection.FuseEnergy <= 0 {
		add("fuse_energy must be positive, got %f", c.Protection.FuseEnergy)
	}
	if c.Protection.FuseDecay < 0 {
		add("fuse_decay must not be negative, got %f", c.Protection.FuseDecay)
	}
	if c.Protection.LoadImpedance <= 0 {
		add("load_impedance must be positive, got %f", c.Protection.LoadImpedance)
	}
	if c.HistorySeconds < 0 {
		add("history_seconds must not be negative, got %f", c.HistorySeconds)
	}

	if len(errs) > 0 {
		return wrapInvalid(errs)
	}
	return nil
}

func wrapInvalid(errs []error) error {
	return fmt.Errorf("%w: %w", dynamo.ErrInvalidConfig, errors.Join(errs...))
}

// Load reads a YAML file over the defaults. STABSIM_* environment
// variables override file values, e.g. STABSIM_PROTECTION_TRIP_MODE.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return decode(v)
}

// FromEnv builds a configuration from defaults and environment only.
func FromEnv() (*Config, error) {
	return decode(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about.
	data, _ := yaml.Marshal(DefaultConfig())
	var defaults map[string]any
	_ = yaml.Unmarshal(data, &defaults)
	setDefaults(v, "", defaults)
	return v
}

func setDefaults(v *viper.Viper, prefix string, m map[string]any) {
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			setDefaults(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Clone returns an independent copy.
func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}
