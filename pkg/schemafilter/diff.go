package schemafilter

import (
	"sort"

	"github.com/openfroyo/syncprobe/pkg/fivetran"
)

// Change is a column whose enabled flag differs between discovery and the
// write tree.
type Change struct {
	Schema string `json:"schema" yaml:"schema"`
	Table  string `json:"table" yaml:"table"`
	Column string `json:"column" yaml:"column"`
	Before bool   `json:"before" yaml:"before"`
	After  bool   `json:"after" yaml:"after"`
}

// Summary counts the contents of a write tree.
type Summary struct {
	Schemas         int `json:"schemas" yaml:"schemas"`
	Tables          int `json:"tables" yaml:"tables"`
	Columns         int `json:"columns" yaml:"columns"`
	EnabledColumns  int `json:"enabled_columns" yaml:"enabled_columns"`
	DisabledColumns int `json:"disabled_columns" yaml:"disabled_columns"`
}

// Diff lists, in sorted order, the columns Apply flipped. Schema and table
// flags are not reported.
func Diff(discovered *fivetran.SchemaConfig, update map[string]fivetran.SchemaUpdate) []Change {
	var changes []Change
	if discovered == nil {
		return changes
	}
	for schemaName, schema := range discovered.Schemas {
		for tableName, table := range schema.Tables {
			for columnName, column := range table.Columns {
				after, ok := update[schemaName].Tables[tableName].Columns[columnName]
				if !ok || after.Enabled == column.Enabled {
					continue
				}
				changes = append(changes, Change{
					Schema: schemaName,
					Table:  tableName,
					Column: columnName,
					Before: column.Enabled,
					After:  after.Enabled,
				})
			}
		}
	}
	sort.Slice(changes, func(i, j int) bool {
		a, b := changes[i], changes[j]
		if a.Schema != b.Schema {
			return a.Schema < b.Schema
		}
		if a.Table != b.Table {
			return a.Table < b.Table
		}
		return a.Column < b.Column
	})
	return changes
}

// Summarize counts schemas, tables and columns of a write tree.
func Summarize(update map[string]fivetran.SchemaUpdate) Summary {
	var s Summary
	for _, schema := range update {
		s.Schemas++
		for _, table := range schema.Tables {
			s.Tables++
			for _, column := range table.Columns {
				s.Columns++
				if column.Enabled {
					s.EnabledColumns++
				} else {
					s.DisabledColumns++
				}
			}
		}
	}
	return s
}
