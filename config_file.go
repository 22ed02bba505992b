package goGuard

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads a YAML file over DefaultConfig and validates the result.
// ${VAR} references are expanded from the environment before parsing.
// Durations use Go syntax ("15m", "1h30m"). Entries under policies are added
// to, or replace, the default operation policies.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(data)
}

// ParseConfig is LoadConfig for an in-memory document.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	expanded := os.ExpandEnv(string(data))

	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: %v", ErrPolicyConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
