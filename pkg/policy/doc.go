// Package policy decides which discovered columns are excluded from
// replication, using Open Policy Agent (OPA) Rego modules.
//
// Every policy module defines an `exclude` set in its own package. Each
// element is an object naming a column:
//
//	package syncprobe.exclusions
//
//	import rego.v1
//
//	exclude contains {"schema": c.schema, "table": c.table, "column": c.column} if {
//		some c in input.columns
//		startswith(c.column, "secret_")
//	}
//
// The input document lists every discovered column with its schema, table,
// column, name_in_destination, enabled and is_primary_key fields. Statically
// configured exclusions are readable as data.syncprobe.static.
//
// # Usage
//
//	eng, err := policy.NewEngine(logger, policy.WithStaticExclusions(cfg.Exclude...))
//	if err != nil {
//		return err
//	}
//	if err := eng.LoadPolicies(ctx, cfg.Paths); err != nil {
//		return err
//	}
//	excl, err := eng.Exclusions(ctx, discovered)
//
// The engine ships with a built-in policy excluding the computed
// public.Person.username property. Loader.Watch reloads policy files as they
// change, which the schema preview command uses.
package policy
