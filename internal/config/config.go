// Package config loads the platform description: geometry, washout tuning
// and actuator limits. Runtime settings such as addresses and tick rate come
// from the environment and are handled by the commands.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jared-teets/flight-sim/internal/actuator"
	"github.com/jared-teets/flight-sim/internal/cueing"
	"github.com/jared-teets/flight-sim/internal/geometry"
)

// Actuator holds the Electrak HD settings.
type Actuator struct {
	// NodeIDs assigns CANopen nodes to legs 0..5. Empty means scan the bus.
	NodeIDs           []uint8 `yaml:"node_ids"`
	RetractedLengthMM float64 `yaml:"retracted_length_mm"`
	CurrentLimitA     float64 `yaml:"current_limit_a"`
	SpeedPct          float64 `yaml:"speed_pct"`
	Bitrate           int     `yaml:"bitrate"`
	MaxSpeedMMPerSec  float64 `yaml:"max_speed_mm_per_s"`
}

// Platform is the contents of a platform file.
type Platform struct {
	Geometry geometry.Config      `yaml:"geometry"`
	Washout  cueing.WashoutConfig `yaml:"washout"`
	Actuator Actuator             `yaml:"actuator"`
}

// Default returns the reference rig.
func Default() Platform {
	g := geometry.DefaultConfig()
	return Platform{
		Geometry: g,
		Washout:  cueing.DefaultWashoutConfig(),
		Actuator: Actuator{
			RetractedLengthMM: g.MinLength * 1000,
			CurrentLimitA:     12.5,
			SpeedPct:          80,
			Bitrate:           500000,
			MaxSpeedMMPerSec:  71,
		},
	}
}

// Load reads a platform file. Keys that are absent keep their defaults;
// unknown keys are rejected.
func Load(path string) (Platform, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Platform{}, fmt.Errorf("reading platform file: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return Platform{}, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a platform description over the defaults and validates it.
func Parse(data []byte) (Platform, error) {
	p := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return Platform{}, fmt.Errorf("decoding platform: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Platform{}, err
	}
	return p, nil
}

// Validate checks the settings that construction would not catch.
func (p Platform) Validate() error {
	if _, err := geometry.New(p.Geometry); err != nil {
		return err
	}
	if err := p.Washout.Validate(); err != nil {
		return fmt.Errorf("washout: %w", err)
	}

	a := p.Actuator
	if n := len(a.NodeIDs); n != 0 && n != actuator.Count {
		return fmt.Errorf("actuator: %d node ids, want %d or none", n, actuator.Count)
	}
	seen := make(map[uint8]bool)
	for _, id := range a.NodeIDs {
		if id == 0 || id > 127 {
			return fmt.Errorf("actuator: node id %d out of range 1-127", id)
		}
		if seen[id] {
			return fmt.Errorf("actuator: duplicate node id %d", id)
		}
		seen[id] = true
	}
	if a.RetractedLengthMM <= 0 {
		return fmt.Errorf("actuator: retracted length must be positive, got %g", a.RetractedLengthMM)
	}
	if a.CurrentLimitA <= 0 || a.CurrentLimitA > actuator.MaxCurrentA {
		return fmt.Errorf("actuator: current limit %g A outside (0, %g]", a.CurrentLimitA, actuator.MaxCurrentA)
	}
	if a.SpeedPct <= 0 || a.SpeedPct > 100 {
		return fmt.Errorf("actuator: speed %g%% outside (0, 100]", a.SpeedPct)
	}
	if a.MaxSpeedMMPerSec <= 0 {
		return fmt.Errorf("actuator: max speed must be positive, got %g", a.MaxSpeedMMPerSec)
	}
	return nil
}

// DriverConfig returns the CANopen driver settings.
func (p Platform) DriverConfig() actuator.DriverConfig {
	cfg := actuator.DefaultDriverConfig()
	cfg.NodeIDs = p.Actuator.NodeIDs
	cfg.RetractedLengthMM = p.Actuator.RetractedLengthMM
	cfg.CurrentLimitA = p.Actuator.CurrentLimitA
	cfg.SpeedPct = p.Actuator.SpeedPct
	return cfg
}

// SimConfig returns simulated actuators matching the geometry.
func (p Platform) SimConfig() actuator.SimConfig {
	cfg := actuator.DefaultSimConfig()
	cfg.InitialMM = p.Geometry.MidLength * 1000
	cfg.MinMM = p.Geometry.MinLength * 1000
	cfg.MaxMM = (p.Geometry.MinLength + p.Geometry.StrokeRange) * 1000
	cfg.MaxSpeedMM = p.Actuator.MaxSpeedMMPerSec
	return cfg
}
