package config

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	if err := sr.RegisterSchema("seed", builtinSeedSchema); err != nil {
		panic(err)
	}

	return sr
}

// RegisterSchema compiles a CUE schema. The schema must define a definition
// named after the schema with a leading # and upper-cased first letter,
// e.g. #Seed for "seed".
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	def := val.LookupPath(cue.ParsePath(definitionName(name)))
	if !def.Exists() {
		return fmt.Errorf("schema %s does not define %s", name, definitionName(name))
	}

	sr.schemas[name] = def
	return nil
}

// RegisterSchemaFile registers a schema read from a .cue file.
func (sr *SchemaRegistry) RegisterSchemaFile(name, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read schema: %w", err)
	}
	return sr.RegisterSchema(name, string(data))
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(_ context.Context, schemaName string, data any) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %s", errors.Details(err, nil))
	}

	return nil
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func definitionName(name string) string {
	if name == "" {
		return "#"
	}
	b := []byte(name)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return "#" + string(b)
}

// builtinSeedSchema constrains the application slices. Extra slices are
// allowed so scripted reducers can be seeded too.
const builtinSeedSchema = `
#Seed: {
	// Component identifiers are lower-case slugs.
	currentComponent?: string & (=~"^[a-z0-9][a-z0-9._-]*$" | "")

	// Tab names are short identifiers.
	currentTab?: string & =~"^[a-zA-Z][a-zA-Z0-9_-]{0,63}$"

	// Search queries are a single line.
	temporarySearchQuery?: string & !~"\n"

	...
}
`
