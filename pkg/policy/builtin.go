package policy

import (
	"time"
)

// BuiltinPolicies returns the policies compiled into every engine.
func BuiltinPolicies() []Policy {
	return []Policy{
		computedPropertiesPolicy(),
	}
}

// computedPropertiesPolicy excludes columns that the source exposes but
// cannot replicate because they are computed on read.
func computedPropertiesPolicy() Policy {
	return Policy{
		Name:        "computed-properties",
		Description: "Excludes computed properties that have no stored value in the source",
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"source", "computed"},
		LoadedAt:    time.Now(),
		Rego: `package syncprobe.exclusions

import rego.v1

computed := {
	{"schema": "public", "table": "Person", "column": "username"},
}

exclude contains decision if {
	some col in input.columns
	some c in computed
	col.schema == c.schema
	col.table == c.table
	col.column == c.column
	decision := {
		"schema": col.schema,
		"table": col.table,
		"column": col.column,
		"reason": "computed property",
	}
}
`,
	}
}
