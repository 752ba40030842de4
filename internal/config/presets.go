package config

import (
	"sort"

	"github.com/san-kum/stabsim/internal/dynamo"
)

// Presets mirror the stabilizer variants the engine replaces.
var Presets = map[string]func() *Config{
	// proportional: P-only controller settling directly onto the supply.
	"proportional": func() *Config {
		c := DefaultConfig()
		c.Mode = dynamo.ModeP
		c.Kd = 0
		c.Policy = dynamo.DirectSettle
		return c
	},
	// pd: PD controller with instantaneous over/under-voltage trip.
	"pd": func() *Config {
		return DefaultConfig()
	},
	// fuse: PD controller protected by an I²t fuse model.
	"fuse": func() *Config {
		c := DefaultConfig()
		c.Protection.TripMode = dynamo.TripEnergy
		return c
	},
	// sensitive: tight trip band and aggressive gain.
	"sensitive": func() *Config {
		c := DefaultConfig()
		c.Kp = 0.9
		c.Protection.TripFraction = 0.04
		return c
	},
}

func GetPreset(name string) *Config {
	fn, ok := Presets[name]
	if !ok {
		return nil
	}
	return fn()
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
