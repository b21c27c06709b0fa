// Package config loads the optional settings file a peregrine CLI
// invocation reads before building a Session: worker count and the
// stack-depth limit a Scope applies to nested inline continuation
// dispatch.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config is the CLI-level configuration loaded from
// <projectRoot>/.peregrine/config.json.
//
// Strictness: only workers and stack_limit are permitted. Any other
// field causes an error, so a typo in the file surfaces immediately
// rather than being silently ignored.
type Config struct {
	Workers    int
	StackLimit int
}

var ErrInvalidConfig = errors.New("invalid peregrine config")

// Parse parses and validates config JSON.
//
// Allowed fields:
//   - workers (int, > 0)
//   - stack_limit (int, > 0)
//
// Any unknown field is rejected.
func Parse(data []byte) (Config, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("%w: parse json: %v", ErrInvalidConfig, err)
	}

	var cfg Config
	for key, value := range raw {
		switch key {
		case "workers":
			var n int
			if err := json.Unmarshal(value, &n); err != nil {
				return Config{}, fmt.Errorf("%w: workers must be an integer", ErrInvalidConfig)
			}
			if n <= 0 {
				return Config{}, fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
			}
			cfg.Workers = n
		case "stack_limit":
			var n int
			if err := json.Unmarshal(value, &n); err != nil {
				return Config{}, fmt.Errorf("%w: stack_limit must be an integer", ErrInvalidConfig)
			}
			if n <= 0 {
				return Config{}, fmt.Errorf("%w: stack_limit must be positive", ErrInvalidConfig)
			}
			cfg.StackLimit = n
		default:
			return Config{}, fmt.Errorf("%w: unknown field %q", ErrInvalidConfig, key)
		}
	}

	return cfg, nil
}

// LoadOptional loads .peregrine/config.json from the given project
// root. If the file is missing, it returns (Config{}, false, nil) so
// callers fall back to built-in defaults.
func LoadOptional(projectRoot string) (Config, bool, error) {
	if strings.TrimSpace(projectRoot) == "" {
		return Config{}, false, fmt.Errorf("%w: project root is required", ErrInvalidConfig)
	}

	path := filepath.Join(projectRoot, ".peregrine", "config.json")
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, false, nil
		}
		return Config{}, false, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(b)
	if err != nil {
		return Config{}, true, err
	}
	return cfg, true, nil
}
