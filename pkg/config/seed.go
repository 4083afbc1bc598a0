package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"gopkg.in/yaml.v3"

	"github.com/statekeep/statekeep/pkg/store"
)

// SeedLoader reads initial state files and validates them with CUE.
type SeedLoader struct {
	schemas *SchemaRegistry
}

// NewSeedLoader creates a loader using the built-in #Seed schema.
func NewSeedLoader() *SeedLoader {
	return &SeedLoader{schemas: NewSchemaRegistry()}
}

// UseSchemaFile replaces the #Seed schema with the one defined in path.
func (sl *SeedLoader) UseSchemaFile(path string) error {
	return sl.schemas.RegisterSchemaFile("seed", path)
}

// Schemas returns the schema registry.
func (sl *SeedLoader) Schemas() *SchemaRegistry {
	return sl.schemas
}

// Load reads a .json, .yaml/.yml or .cue file into a state snapshot and
// validates it against the #Seed schema.
func (sl *SeedLoader) Load(ctx context.Context, path string) (store.State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed: %w", err)
	}

	var seed map[string]any
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		err = json.Unmarshal(data, &seed)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &seed)
	case ".cue":
		seed, err = sl.decodeCUE(path, data)
	default:
		return nil, fmt.Errorf("unsupported seed file type: %s", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse seed %s: %w", path, err)
	}

	if err := sl.Validate(ctx, seed); err != nil {
		return nil, fmt.Errorf("seed %s: %w", path, err)
	}
	return store.State(seed), nil
}

// Validate checks a seed against the #Seed schema.
func (sl *SeedLoader) Validate(ctx context.Context, seed map[string]any) error {
	if seed == nil {
		seed = map[string]any{}
	}
	return sl.schemas.ValidateAgainstSchema(ctx, "seed", seed)
}

func (sl *SeedLoader) decodeCUE(path string, data []byte) (map[string]any, error) {
	val := sl.schemas.ctx.CompileBytes(data, cue.Filename(path))
	if err := val.Err(); err != nil {
		return nil, err
	}
	var seed map[string]any
	if err := val.Decode(&seed); err != nil {
		return nil, err
	}
	return seed, nil
}

// ValidateSeed validates a seed against the built-in schema.
func ValidateSeed(ctx context.Context, seed map[string]any) error {
	return NewSeedLoader().Validate(ctx, seed)
}
