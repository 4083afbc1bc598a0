package config

import (
	"time"

	"github.com/statekeep/statekeep/pkg/stores"
	"github.com/statekeep/statekeep/pkg/telemetry"
)

// Config is the statekeep configuration file.
type Config struct {
	// Storage selects the persistence backend.
	Storage StorageConfig `yaml:"storage"`

	// Persist configures the persistor.
	Persist PersistConfig `yaml:"persist"`

	// Telemetry configures logging, metrics and tracing.
	Telemetry telemetry.Config `yaml:"telemetry"`

	// Policy configures the action policy guard.
	Policy PolicyConfig `yaml:"policy"`

	// Sync configures action metadata and broadcasting.
	Sync SyncConfig `yaml:"sync"`

	// Reducers configures scripted reducers.
	Reducers ReducersConfig `yaml:"reducers"`

	// Seed points at an initial state file.
	Seed SeedConfig `yaml:"seed"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Driver is memory, sqlite or file.
	Driver stores.Driver `yaml:"driver" validate:"required,oneof=memory sqlite file"`

	// Path is the database file or directory. Ignored by the memory driver.
	Path string `yaml:"path" validate:"required_unless=Driver memory"`
}

// PersistConfig configures the persistor.
type PersistConfig struct {
	// KeyPrefix is prepended to every stored slice name.
	KeyPrefix string `yaml:"key_prefix" validate:"required"`

	// Debounce delays writes so bursts of changes become one write.
	Debounce time.Duration `yaml:"debounce" validate:"gte=0"`

	// RehydrateTimeout bounds the initial read of persisted slices.
	RehydrateTimeout time.Duration `yaml:"rehydrate_timeout" validate:"gt=0"`

	// Strict reports rehydration read failures to the bootstrap callback.
	Strict bool `yaml:"strict"`
}

// PolicyConfig configures the action policy guard.
type PolicyConfig struct {
	// Enabled installs the guard. Built-in policies apply even without Paths.
	Enabled bool `yaml:"enabled"`

	// Paths lists .rego or .json policy files and directories.
	Paths []string `yaml:"paths" validate:"dive,required"`

	// Watch reloads policies when files under Paths change.
	Watch bool `yaml:"watch"`

	// Overrides enables or disables policies by name, built-ins included.
	// They are applied again after every reload.
	Overrides map[string]bool `yaml:"overrides"`
}

// SyncConfig configures action metadata and broadcasting.
type SyncConfig struct {
	// Origin identifies this process in action metadata. Generated when empty.
	Origin string `yaml:"origin"`

	// BufferSize is the per-subscriber buffer of the in-process hub.
	BufferSize int `yaml:"buffer_size" validate:"gte=0"`
}

// ReducersConfig configures scripted reducers.
type ReducersConfig struct {
	// Script is an optional Starlark file defining extra slices.
	Script string `yaml:"script"`

	// MaxSteps bounds each reducer call. Zero disables the limit.
	MaxSteps uint64 `yaml:"max_steps"`

	// Timeout bounds the wall time of each reducer call.
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// SeedConfig points at an initial state file.
type SeedConfig struct {
	// Path is a .json, .yaml or .cue file with initial slice values.
	Path string `yaml:"path"`

	// Schema is an optional CUE file defining #Seed, replacing the built-in schema.
	Schema string `yaml:"schema" validate:"excluded_without=Path"`
}
