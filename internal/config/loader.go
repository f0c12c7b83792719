package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix     = "BENCH_"
	envConfigFile = "BENCH_CONFIG"
)

// Inputs set by the CI action wrapper, mapped onto their config keys.
var actionInputs = map[string]string{ //nolint:gochecknoglobals // fixed lookup table
	"INPUT_INDIVIDUAL_EVALUATION": "individual_evaluation",
	"INPUT_FETCH_TOKEN":           "fetch_token",
	"DEFAULT_CONTROLLER":          "default_controller",
}

// Load builds a Config using the file named by BENCH_CONFIG, if any.
func Load(ctx context.Context) (*Config, error) {
	return LoadFile(ctx, os.Getenv(envConfigFile))
}

// LoadFile builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) at path, when non-empty
//  3. env (prefix BENCH_, "__" separates nested keys)
//  4. action inputs (INPUT_INDIVIDUAL_EVALUATION, INPUT_FETCH_TOKEN, DEFAULT_CONTROLLER)
func LoadFile(_ context.Context, path string) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// BENCH_DRAIN_TIMEOUT -> drain_timeout, BENCH_SIMULATOR__HOST_PORT -> simulator.host_port
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ToLower(s)
		return strings.ReplaceAll(s, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	// The file path itself is not a config key.
	k.Delete("config")

	for name, key := range actionInputs {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			if err := k.Set(key, v); err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, name, err)
			}
		}
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
