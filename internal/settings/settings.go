// Package settings persists the user-facing tracker settings as a YAML file.
package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Settings mirrors what the operator enters in the settings panel. Values
// are kept as strings, as entered; use the accessors for typed values.
type Settings struct {
	APIKey            string `yaml:"apiKey" json:"apiKey" validate:"required"`
	OperatorID        string `yaml:"operatorId" json:"operatorId" validate:"required"`
	StopDelaySeconds  string `yaml:"stopDelaySeconds" json:"stopDelaySeconds" validate:"omitempty,number"`
	DestinationFilter string `yaml:"destinationFilter" json:"destinationFilter"`
}

var validate = validator.New()

// Validate checks required fields and numeric values.
func (s Settings) Validate() error {
	return validate.Struct(s)
}

// StopDelay is StopDelaySeconds as a duration, zero when unset or invalid.
func (s Settings) StopDelay() time.Duration {
	v := strings.TrimSpace(s.StopDelaySeconds)
	if v == "" {
		return 0
	}
	sec, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return time.Duration(sec * float64(time.Second))
}

// Destinations splits DestinationFilter on commas into trimmed, non-empty
// substrings.
func (s Settings) Destinations() []string {
	var out []string
	for _, part := range strings.Split(s.DestinationFilter, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Merge returns s with every non-empty field of override applied.
func (s Settings) Merge(override Settings) Settings {
	if override.APIKey != "" {
		s.APIKey = override.APIKey
	}
	if override.OperatorID != "" {
		s.OperatorID = override.OperatorID
	}
	if override.StopDelaySeconds != "" {
		s.StopDelaySeconds = override.StopDelaySeconds
	}
	if override.DestinationFilter != "" {
		s.DestinationFilter = override.DestinationFilter
	}
	return s
}

// Load reads settings from path. A missing file yields empty settings.
func Load(path string) (Settings, error) {
	var s Settings
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, err
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse settings %s: %w", path, err)
	}
	return s, nil
}

// Save writes settings to path atomically.
func Save(path string, s Settings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
