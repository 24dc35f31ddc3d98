package policy

import (
	"time"

	"github.com/openfroyo/syncprobe/pkg/schemafilter"
)

// DefaultRule is the rule every exclusion policy must define. It is a set of
// objects with "schema", "table" and "column" keys and an optional "reason".
const DefaultRule = "exclude"

// Policy is one Rego module that contributes exclusions.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name" yaml:"name"`

	// Description is taken from the leading comment block of the module.
	Description string `json:"description" yaml:"description"`

	// Package is the Rego package, filled in when the policy is compiled.
	Package string `json:"package" yaml:"package"`

	// Rego contains the module source.
	Rego string `json:"rego" yaml:"-"`

	// Enabled indicates if the policy is evaluated.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Builtin marks policies shipped with the binary.
	Builtin bool `json:"builtin" yaml:"builtin"`

	// Source is the file the policy was loaded from.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`

	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	LoadedAt time.Time `json:"loaded_at" yaml:"loaded_at"`
}

// Input is the document handed to every policy as `input`.
type Input struct {
	// Columns lists every discovered column, sorted by schema, table, column.
	Columns []ColumnInput `json:"columns"`
}

// ColumnInput describes one discovered column.
type ColumnInput struct {
	Schema            string `json:"schema"`
	Table             string `json:"table"`
	Column            string `json:"column"`
	NameInDestination string `json:"name_in_destination"`
	Enabled           bool   `json:"enabled"`
	IsPrimaryKey      bool   `json:"is_primary_key"`
}

// Decision is a single exclusion together with the policy that produced it.
type Decision struct {
	schemafilter.Exclusion

	Policy string `json:"policy" yaml:"policy"`
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Result is the outcome of evaluating every enabled policy.
type Result struct {
	// Exclusions is the union of policy decisions and static exclusions.
	Exclusions schemafilter.Exclusions `json:"-" yaml:"-"`

	// Decisions lists what each policy excluded, in evaluation order.
	Decisions []Decision `json:"decisions" yaml:"decisions"`

	// Static is the number of exclusions configured outside of policies.
	Static int `json:"static" yaml:"static"`

	EvaluatedPolicies []string      `json:"evaluated_policies" yaml:"evaluated_policies"`
	Duration          time.Duration `json:"duration" yaml:"duration"`
}
