package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadRuntimeOverlay reads a YAML overlay file and applies it on top of
// the given defaults. A missing file is not an error — the daemon runs on
// defaults until configured through the API. Unknown keys are rejected so
// a typo in the overlay fails loudly at boot instead of silently doing
// nothing.
func LoadRuntimeOverlay(path string, defaults *RuntimeConfig) (*RuntimeConfig, error) {
	if path == "" {
		return defaults, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return defaults, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read runtime overlay %s: %w", path, err)
	}

	merged := defaults.Clone()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(merged); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse runtime overlay %s: %w", path, err)
	}
	if err := merged.Validate(); err != nil {
		return nil, fmt.Errorf("runtime overlay %s: %w", path, err)
	}
	return merged, nil
}
