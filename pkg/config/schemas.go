package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// SchemaRegistry manages the CUE schemas configuration values are checked
// against. Each schema is a CUE source whose top-level definition of the
// same name, capitalised, describes the value (schema "config" exports
// #Config).
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

var defaultRegistry = NewSchemaRegistry()

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	// Built-in schemas are constants; a compile failure is a programming error.
	if err := sr.RegisterSchema("config", builtinConfigSchema); err != nil {
		panic(err)
	}
	if err := sr.RegisterSchema("exclusion", builtinExclusionSchema); err != nil {
		panic(err)
	}

	return sr
}

// RegisterSchema compiles and registers a CUE schema under name.
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

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ListSchemas returns all registered schema names, sorted.
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

// Validate checks data against the named schema. Data goes through its
// JSON encoding first, so nil slices and maps arrive as null and field
// names follow the json tags.
func (sr *SchemaRegistry) Validate(schemaName string, data interface{}) []ValidationError {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return []ValidationError{{
			Message:  fmt.Sprintf("schema %s not found", schemaName),
			Severity: "error",
		}}
	}

	// The cue context is not safe for concurrent use.
	sr.mu.Lock()
	defer sr.mu.Unlock()

	raw, err := json.Marshal(data)
	if err != nil {
		return []ValidationError{{
			Message:  fmt.Sprintf("failed to encode value for schema %s: %v", schemaName, err),
			Severity: "error",
		}}
	}
	dataVal := sr.ctx.CompileBytes(raw, cue.Filename(schemaName+".json"))
	if err := dataVal.Err(); err != nil {
		return convertCUEErrors(err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return convertCUEErrors(err)
	}

	return nil
}

// ValidateConfig checks a full configuration against the config schema.
func (sr *SchemaRegistry) ValidateConfig(c *Config) []ValidationError {
	return sr.Validate("config", c)
}

func definitionName(name string) string {
	if name == "" {
		return "#"
	}
	return "#" + strings.ToUpper(name[:1]) + name[1:]
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		var file string
		var line, column int

		// Positions inside the schemas or the encoded value are not useful
		// to users.
		for _, pos := range errors.Positions(e) {
			if name := pos.Filename(); strings.HasSuffix(name, ".cue") || strings.HasSuffix(name, ".json") {
				continue
			}
			file = pos.Filename()
			line = pos.Line()
			column = pos.Column()
			break
		}

		format, args := e.Msg()
		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Path:     valuePath(e.Path()),
			Message:  fmt.Sprintf(format, args...),
			Severity: "error",
		})
	}

	return validationErrors
}

// valuePath joins an error path without the schema definition selector,
// so "#Config.run.max_age" reads "run.max_age".
func valuePath(path []string) string {
	for len(path) > 0 && strings.HasPrefix(path[0], "#") {
		path = path[1:]
	}
	return strings.Join(path, ".")
}

// Built-in schema definitions. Durations are encoded as integer
// nanoseconds. A negative wait timeout means the wait is unbounded.

const builtinConfigSchema = `
#Duration: int & >=0

#Port: int & >=0 & <=65535

#Config: {
	fivetran: {
		base_url: =~"^https?://"
		timeout:  #Duration
	}

	run: {
		poll_interval:          int & >=1000000000
		setup_timeout:          int
		sync_timeout:           int
		setup_max_polls:        int & >=0
		sync_max_polls:         int & >=0
		fail_on_broken:         bool
		max_age:                int & >0
		skip_sweep:             bool
		sweep_orphan_groups:    bool
		best_effort:            bool
		keep_resources:         bool
		schema_change_handling: "ALLOW_ALL" | "ALLOW_COLUMNS" | "BLOCK_ALL"
		sync_frequency:         1 | 5 | 15 | 30 | 60 | 120 | 180 | 360 | 480 | 720 | 1440
	}

	source: {
		local_address: string
		host:          string
		port:          #Port
		user:          string
		database:      string
		schema_prefix: =~"^[a-z][a-z0-9_]*$"
		update_method: "TELEPORT" | "WAL" | "WAL_PGOUTPUT" | "XMIN"
	}

	destination: {
		local_address:    string
		host:             string
		port:             #Port
		user:             string
		database:         string
		time_zone_offset: "0" | =~"^-([1-9]|1[01])$" | =~"^[+]([1-9]|1[0-2])$"
		region:           string
	}

	policy: {
		paths?:    null | [...string]
		exclude?:  null | [...#Exclusion]
		disabled?: null | [...string]
	}

	store: {...}

	tunnel: {
		enabled: bool
		ssh: {...}
	}

	verify: {
		skip:            bool
		address:         string
		ssl_mode:        "disable" | "allow" | "prefer" | "require" | "verify-ca" | "verify-full"
		connect_timeout: #Duration
	}

	telemetry: {...}
}

#Exclusion: {
	schema: string & !=""
	table:  string & !=""
	column: string & !=""
}
`

const builtinExclusionSchema = `
#Exclusion: {
	schema: string & !=""
	table:  string & !=""
	column: string & !=""
}
`
