// Package schemafilter turns a discovered schema tree into the write tree
// submitted back to the platform.
//
// The rule is fixed: every schema and table is enabled, a column stays
// enabled only if discovery enabled it and it is not excluded, hashing is
// switched off everywhere and the primary-key flag is echoed. Every key of
// the discovered tree appears in the result exactly once.
package schemafilter

import (
	"sort"

	"github.com/openfroyo/syncprobe/pkg/fivetran"
)

// Exclusion names a single column that must not be replicated.
type Exclusion struct {
	Schema string `json:"schema" yaml:"schema" validate:"required"`
	Table  string `json:"table" yaml:"table" validate:"required"`
	Column string `json:"column" yaml:"column" validate:"required"`
}

// Exclusions is an immutable set of excluded columns.
type Exclusions struct {
	set map[Exclusion]struct{}
}

// NewExclusions builds a set from the given triples. Duplicates collapse.
func NewExclusions(items ...Exclusion) Exclusions {
	set := make(map[Exclusion]struct{}, len(items))
	for _, e := range items {
		set[e] = struct{}{}
	}
	return Exclusions{set: set}
}

// Merge returns a new set holding the union of both sets.
func (x Exclusions) Merge(other Exclusions) Exclusions {
	set := make(map[Exclusion]struct{}, len(x.set)+len(other.set))
	for e := range x.set {
		set[e] = struct{}{}
	}
	for e := range other.set {
		set[e] = struct{}{}
	}
	return Exclusions{set: set}
}

// Contains reports whether the column is excluded.
func (x Exclusions) Contains(schema, table, column string) bool {
	_, ok := x.set[Exclusion{Schema: schema, Table: table, Column: column}]
	return ok
}

// Len returns the number of excluded columns.
func (x Exclusions) Len() int {
	return len(x.set)
}

// List returns the exclusions sorted by schema, table, column.
func (x Exclusions) List() []Exclusion {
	out := make([]Exclusion, 0, len(x.set))
	for e := range x.set {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Schema != out[j].Schema {
			return out[i].Schema < out[j].Schema
		}
		if out[i].Table != out[j].Table {
			return out[i].Table < out[j].Table
		}
		return out[i].Column < out[j].Column
	})
	return out
}

// Apply folds the discovered tree into a freshly allocated write tree.
// It never mutates discovered. A nil discovered tree yields an empty map.
func Apply(discovered *fivetran.SchemaConfig, excl Exclusions) map[string]fivetran.SchemaUpdate {
	if discovered == nil {
		return map[string]fivetran.SchemaUpdate{}
	}

	schemas := make(map[string]fivetran.SchemaUpdate, len(discovered.Schemas))
	for schemaName, schema := range discovered.Schemas {
		tables := make(map[string]fivetran.TableUpdate, len(schema.Tables))
		for tableName, table := range schema.Tables {
			columns := make(map[string]fivetran.ColumnUpdate, len(table.Columns))
			for columnName, column := range table.Columns {
				columns[columnName] = fivetran.ColumnUpdate{
					Enabled:      column.Enabled && !excl.Contains(schemaName, tableName, columnName),
					Hashed:       fivetran.Bool(false),
					IsPrimaryKey: copyBool(column.IsPrimaryKey),
				}
			}
			tables[tableName] = fivetran.TableUpdate{Enabled: true, Columns: columns}
		}
		schemas[schemaName] = fivetran.SchemaUpdate{Enabled: true, Tables: tables}
	}
	return schemas
}

// BuildRequest wraps Apply into a schema update request.
func BuildRequest(discovered *fivetran.SchemaConfig, excl Exclusions, handling fivetran.SchemaChangeHandling) *fivetran.SchemaUpdateRequest {
	return &fivetran.SchemaUpdateRequest{
		SchemaChangeHandling: handling,
		Schemas:              Apply(discovered, excl),
	}
}

func copyBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}
