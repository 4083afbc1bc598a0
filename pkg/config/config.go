package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/statekeep/statekeep/pkg/persist"
	"github.com/statekeep/statekeep/pkg/script"
	"github.com/statekeep/statekeep/pkg/stores"
	"github.com/statekeep/statekeep/pkg/telemetry"
)

// DefaultPath is where the CLI looks for a configuration file.
const DefaultPath = "statekeep.yaml"

// Default returns a configuration that works without a file: an in-memory
// backend, the built-in policies and no scripted reducers.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Driver: stores.DriverMemory,
		},
		Persist: PersistConfig{
			KeyPrefix:        persist.DefaultKeyPrefix,
			RehydrateTimeout: persist.DefaultRehydrateTimeout,
		},
		Telemetry: *telemetry.DefaultConfig(),
		Policy: PolicyConfig{
			Enabled: true,
		},
		Sync: SyncConfig{
			BufferSize: 64,
		},
		Reducers: ReducersConfig{
			MaxSteps: script.DefaultMaxSteps,
			Timeout:  script.DefaultTimeout,
		},
	}
}

// Load reads a YAML file over Default and validates the result.
// Relative paths inside the file are resolved against the file's directory.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

// Parse decodes YAML over Default and validates the result. Unknown fields are errors.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct tags and the telemetry section.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	return nil
}

// PersistOptions converts the persist section into persistor options.
func (c *Config) PersistOptions() persist.Options {
	return persist.Options{
		KeyPrefix:        c.Persist.KeyPrefix,
		Debounce:         c.Persist.Debounce,
		RehydrateTimeout: c.Persist.RehydrateTimeout,
		Strict:           c.Persist.Strict,
	}
}

// ScriptOptions converts the reducers section into script options.
func (c *Config) ScriptOptions() []script.Option {
	return []script.Option{
		script.WithMaxSteps(c.Reducers.MaxSteps),
		script.WithTimeout(c.Reducers.Timeout),
	}
}

func (c *Config) resolvePaths(dir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) || (c.Storage.Driver == stores.DriverSQLite && p == ":memory:") {
			return p
		}
		return filepath.Join(dir, p)
	}
	c.Storage.Path = abs(c.Storage.Path)
	for i, p := range c.Policy.Paths {
		c.Policy.Paths[i] = abs(p)
	}
	c.Reducers.Script = abs(c.Reducers.Script)
	c.Seed.Path = abs(c.Seed.Path)
	c.Seed.Schema = abs(c.Seed.Schema)
}
