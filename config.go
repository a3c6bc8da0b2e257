package symex

import (
	"fmt"
	"os"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config holds the exploration budgets and options of an Engine. Fields that
// are not set in a configuration file keep their default value.
type Config struct {
	// MaxSteps is the number of work items a single exploration may dequeue.
	MaxSteps int `yaml:"max-steps"`

	// MaxStates is the number of states a single exploration may create.
	MaxStates int `yaml:"max-states"`

	// MaxVisitsPerNode is the number of times a single path may enter a
	// block that lies on a loop.
	MaxVisitsPerNode int `yaml:"max-visits-per-node"`

	// MaxStartingStates bounds the product of nullable parameter
	// combinations. Beyond it a single unconstrained starting state is used.
	MaxStartingStates int `yaml:"max-starting-states"`

	// MaxYields is the number of yields a behavior may have before it is
	// considered unknown.
	MaxYields int `yaml:"max-yields"`

	// MaxNestingDepth bounds nested behavior computations.
	MaxNestingDepth int `yaml:"max-nesting-depth"`

	// MaxFlows is the number of flows attached to a single issue.
	MaxFlows int `yaml:"max-flows"`

	// NullPointerException is the name of the exception type raised by a
	// null dereference.
	NullPointerException string `yaml:"null-pointer-exception"`

	// Parallelism is the number of methods analyzed concurrently.
	Parallelism int `yaml:"parallelism"`

	// Searcher is the exploration strategy: dfs, bfs or random.
	Searcher string `yaml:"searcher"`

	// Seed initializes the random searcher.
	Seed int64 `yaml:"seed"`

	// LogLevel is one of error, warn, info or debug.
	LogLevel string `yaml:"log-level"`
}

// NewDefaultConfig returns a configuration with default budgets.
func NewDefaultConfig() *Config {
	return &Config{
		MaxSteps:             DefaultMaxSteps,
		MaxStates:            DefaultMaxStates,
		MaxVisitsPerNode:     DefaultMaxVisitsPerNode,
		MaxStartingStates:    DefaultMaxStartingStates,
		MaxYields:            DefaultMaxYields,
		MaxNestingDepth:      DefaultMaxNestingDepth,
		MaxFlows:             DefaultMaxFlows,
		NullPointerException: DefaultNullPointerException,
		Parallelism:          1,
		Searcher:             "dfs",
		LogLevel:             "info",
	}
}

// LoadConfig reads a YAML configuration file over the defaults.
func LoadConfig(filename string) (*Config, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %w", err)
	}
	config, err := ParseConfig(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return config, nil
}

// ParseConfig decodes a YAML configuration over the defaults and validates it.
func ParseConfig(b []byte) (*Config, error) {
	config := NewDefaultConfig()
	if err := yaml.Unmarshal(b, config); err != nil {
		return nil, fmt.Errorf("could not unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate returns an error wrapping ErrInvalidConfig if a field is out of range.
func (c *Config) Validate() error {
	for _, f := range []struct {
		name  string
		value int
	}{
		{"max-steps", c.MaxSteps},
		{"max-states", c.MaxStates},
		{"max-visits-per-node", c.MaxVisitsPerNode},
		{"max-starting-states", c.MaxStartingStates},
		{"max-yields", c.MaxYields},
		{"max-nesting-depth", c.MaxNestingDepth},
		{"max-flows", c.MaxFlows},
		{"parallelism", c.Parallelism},
	} {
		if f.value < 1 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, f.name, f.value)
		}
	}

	if _, err := NewSearcher(c.Searcher, c.Seed); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	}
	if _, err := c.Level(); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, err)
	}
	return nil
}

// Level returns the logging level named by LogLevel.
func (c *Config) Level() (zapcore.Level, error) {
	switch c.LogLevel {
	case "error":
		return zapcore.ErrorLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level: %q", c.LogLevel)
}
