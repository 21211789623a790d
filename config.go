package treemap

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML form of Config.
type fileConfig struct {
	MovesPerStep         int       `yaml:"moves_per_step"`
	MaxUnsuccessfulMoves int       `yaml:"max_unsuccessful_moves"`
	CostCoefficients     []float64 `yaml:"cost_coefficients"`
	MaxFullRuns          int       `yaml:"max_full_runs"`
	ManualOptimize       bool      `yaml:"manual_optimize"`
}

// LoadConfig reads a YAML configuration. Missing keys keep their defaults.
//
//	moves_per_step: 4
//	max_unsuccessful_moves: 3
//	cost_coefficients: [1.543037e-6, 1.154801e-6, 44.716e-9, 1.799e-9]
//	max_full_runs: 0
//	manual_optimize: false
func LoadConfig(r io.Reader) (Config, error) {
	def := DefaultConfig()
	fc := fileConfig{
		MovesPerStep:         def.MovesPerStep,
		MaxUnsuccessfulMoves: def.MaxUnsuccessfulMoves,
		CostCoefficients:     def.CostCoefficients[:],
	}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("treemap: parse config: %w", err)
	}
	if len(fc.CostCoefficients) != len(def.CostCoefficients) {
		return Config{}, fmt.Errorf("treemap: cost_coefficients must have %d entries, got %d",
			len(def.CostCoefficients), len(fc.CostCoefficients))
	}
	cfg := Config{
		MovesPerStep:         fc.MovesPerStep,
		MaxUnsuccessfulMoves: fc.MaxUnsuccessfulMoves,
		MaxFullRuns:          fc.MaxFullRuns,
		ManualOptimize:       fc.ManualOptimize,
	}
	copy(cfg.CostCoefficients[:], fc.CostCoefficients)
	if err := validateConfig(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MarshalYAML writes the serializable part of the config.
func (c Config) MarshalYAML() (any, error) {
	return fileConfig{
		MovesPerStep:         c.MovesPerStep,
		MaxUnsuccessfulMoves: c.MaxUnsuccessfulMoves,
		CostCoefficients:     c.CostCoefficients[:],
		MaxFullRuns:          c.MaxFullRuns,
		ManualOptimize:       c.ManualOptimize,
	}, nil
}
