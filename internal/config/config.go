package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Limits are the tunable runtime bounds, loadable from a YAML file.
type Limits struct {
	MaxStackSize  int `yaml:"max_stack_size"`
	MaxCallDepth  int `yaml:"max_call_depth"`
	MaxMatchSteps int `yaml:"max_match_steps"`
	Workers       int `yaml:"workers"`
}

// DefaultLimits returns the built-in bounds; Workers 0 means one
// goroutine per task.
func DefaultLimits() Limits {
	return Limits{
		MaxStackSize:  DefaultMaxStackSize,
		MaxCallDepth:  DefaultMaxCallDepth,
		MaxMatchSteps: DefaultMaxMatchSteps,
	}
}

// LoadLimits reads a limits file, filling unset fields from the defaults.
func LoadLimits(path string) (Limits, error) {
	limits := DefaultLimits()
	data, err := os.ReadFile(path)
	if err != nil {
		return limits, fmt.Errorf("reading limits file: %w", err)
	}
	if err := yaml.Unmarshal(data, &limits); err != nil {
		return limits, fmt.Errorf("parsing limits file: %w", err)
	}
	if limits.MaxStackSize <= 0 {
		limits.MaxStackSize = DefaultMaxStackSize
	}
	if limits.MaxCallDepth <= 0 {
		limits.MaxCallDepth = DefaultMaxCallDepth
	}
	if limits.MaxMatchSteps <= 0 {
		limits.MaxMatchSteps = DefaultMaxMatchSteps
	}
	return limits, nil
}
