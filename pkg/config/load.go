package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jobscan/jobscan/pkg/utils"
)

// Load reads and decodes a YAML config file. The result is not validated.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read config: %w", utils.ErrFilesystem, err)
	}
	return Decode(data)
}

// Decode parses YAML config bytes. Unknown keys are rejected so that typos
// in source definitions do not silently disable a hint.
func Decode(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: parse config: %w", utils.ErrConfigValidation, err)
	}
	return &cfg, nil
}
