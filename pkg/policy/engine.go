package policy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/storage"
	"github.com/open-policy-agent/opa/v1/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/openfroyo/syncprobe/pkg/fivetran"
	"github.com/openfroyo/syncprobe/pkg/schemafilter"
)

// ErrPolicyNotFound is returned when a policy name is unknown.
var ErrPolicyNotFound = errors.New("policy not found")

// Engine evaluates exclusion policies against a discovered schema. It
// implements engine.ExclusionSource.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	order    []string
	store    storage.Store
	static   schemafilter.Exclusions
	logger   zerolog.Logger
}

type compiledPolicy struct {
	policy *Policy
	query  rego.PreparedEvalQuery
}

// Option configures an Engine.
type Option func(*Engine)

// WithStaticExclusions merges fixed exclusions into every result. They are
// also visible to policies as data.syncprobe.static.
func WithStaticExclusions(items ...schemafilter.Exclusion) Option {
	return func(e *Engine) {
		e.static = e.static.Merge(schemafilter.NewExclusions(items...))
	}
}

// NewEngine creates an engine with the built-in policies compiled.
func NewEngine(logger zerolog.Logger, opts ...Option) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		static:   schemafilter.NewExclusions(),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.store = inmem.NewFromObject(map[string]interface{}{
		"syncprobe": map[string]interface{}{
			"static": staticDocument(e.static),
		},
	})

	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// Exclusions implements engine.ExclusionSource.
func (e *Engine) Exclusions(ctx context.Context, discovered *fivetran.SchemaConfig) (schemafilter.Exclusions, error) {
	result, err := e.Evaluate(ctx, discovered)
	if err != nil {
		return schemafilter.Exclusions{}, err
	}
	return result.Exclusions, nil
}

// Evaluate runs every enabled policy and returns the merged decisions.
// A failing policy fails the whole evaluation.
func (e *Engine) Evaluate(ctx context.Context, discovered *fivetran.SchemaConfig) (*Result, error) {
	start := time.Now()
	input := BuildInput(discovered)

	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{
		Static:            e.static.Len(),
		EvaluatedPolicies: make([]string, 0, len(e.order)),
	}

	excl := e.static
	for _, name := range e.order {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		decisions, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate policy %s: %w", name, err)
		}

		items := make([]schemafilter.Exclusion, 0, len(decisions))
		for _, d := range decisions {
			items = append(items, d.Exclusion)
		}
		excl = excl.Merge(schemafilter.NewExclusions(items...))
		result.Decisions = append(result.Decisions, decisions...)
	}

	result.Exclusions = excl
	result.Duration = time.Since(start)

	e.logger.Debug().
		Int("policies", len(result.EvaluatedPolicies)).
		Int("columns", len(input.Columns)).
		Int("exclusions", excl.Len()).
		Dur("duration", result.Duration).
		Msg("Exclusion policies evaluated")

	return result, nil
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Decision, error) {
	rs, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var decisions []Decision
	for _, r := range rs {
		for _, expr := range r.Expressions {
			set, ok := expr.Value.([]interface{})
			if !ok {
				return nil, fmt.Errorf("rule %s must be a set, got %T", DefaultRule, expr.Value)
			}
			for _, v := range set {
				d, err := decodeDecision(cp.policy.Name, v)
				if err != nil {
					return nil, err
				}
				decisions = append(decisions, d)
			}
		}
	}

	sort.Slice(decisions, func(i, j int) bool {
		a, b := decisions[i].Exclusion, decisions[j].Exclusion
		if a.Schema != b.Schema {
			return a.Schema < b.Schema
		}
		if a.Table != b.Table {
			return a.Table < b.Table
		}
		return a.Column < b.Column
	})

	return decisions, nil
}

func decodeDecision(policyName string, v interface{}) (Decision, error) {
	obj, ok := v.(map[string]interface{})
	if !ok {
		return Decision{}, fmt.Errorf("policy %s: exclusion must be an object, got %T", policyName, v)
	}

	field := func(key string) (string, error) {
		s, ok := obj[key].(string)
		if !ok || s == "" {
			return "", fmt.Errorf("policy %s: exclusion is missing %q", policyName, key)
		}
		return s, nil
	}

	d := Decision{Policy: policyName}
	var err error
	if d.Schema, err = field("schema"); err != nil {
		return Decision{}, err
	}
	if d.Table, err = field("table"); err != nil {
		return Decision{}, err
	}
	if d.Column, err = field("column"); err != nil {
		return Decision{}, err
	}
	if reason, ok := obj["reason"].(string); ok {
		d.Reason = reason
	}
	return d, nil
}

// LoadPolicies loads policy files and compiles them alongside the built-ins.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")

	return nil
}

// ReplacePolicies swaps every loaded policy for the given set. Built-ins are
// kept. Nothing changes if any policy fails to compile.
func (e *Engine) ReplacePolicies(ctx context.Context, policies []Policy) error {
	next := &Engine{
		policies: make(map[string]*compiledPolicy),
		store:    e.store,
		logger:   e.logger,
	}
	if err := next.loadBuiltinPolicies(ctx); err != nil {
		return err
	}
	for i := range policies {
		if err := next.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Keep enable/disable choices made on the current set.
	for name, cp := range next.policies {
		if old, ok := e.policies[name]; ok {
			cp.policy.Enabled = old.policy.Enabled
		}
	}
	e.policies = next.policies
	e.order = next.order

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies replaced")

	return nil
}

// compileAndStorePolicy parses a module and prepares its exclude query.
// Callers hold the write lock.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	query := module.Package.Path.String() + "." + DefaultRule

	prepared, err := rego.New(
		rego.ParsedModule(module),
		rego.Store(e.store),
		rego.Query(query),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	if _, exists := e.policies[policy.Name]; !exists {
		e.order = append(e.order, policy.Name)
	}
	policy.Package = strings.TrimPrefix(module.Package.Path.String(), "data.")
	e.policies[policy.Name] = &compiledPolicy{
		policy: policy,
		query:  prepared,
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Str("query", query).
		Msg("Policy compiled successfully")

	return nil
}

func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	builtins := BuiltinPolicies()
	for i := range builtins {
		if err := e.compileAndStorePolicy(ctx, &builtins[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
	}

	e.logger.Debug().
		Int("count", len(builtins)).
		Msg("Built-in policies loaded")

	return nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrPolicyNotFound, name)
	}

	p := *cp.policy
	return &p, nil
}

// ListPolicies returns all compiled policies in load order.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.order))
	for _, name := range e.order {
		policies = append(policies, *e.policies[name].policy)
	}

	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("%w: %s", ErrPolicyNotFound, name)
	}

	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")

	return nil
}

// BuildInput flattens a discovered tree into the policy input document.
func BuildInput(discovered *fivetran.SchemaConfig) *Input {
	input := &Input{Columns: []ColumnInput{}}
	if discovered == nil {
		return input
	}

	for schemaName, schema := range discovered.Schemas {
		for tableName, table := range schema.Tables {
			for columnName, col := range table.Columns {
				input.Columns = append(input.Columns, ColumnInput{
					Schema:            schemaName,
					Table:             tableName,
					Column:            columnName,
					NameInDestination: col.NameInDestination,
					Enabled:           col.Enabled,
					IsPrimaryKey:      col.IsPrimaryKey != nil && *col.IsPrimaryKey,
				})
			}
		}
	}

	sort.Slice(input.Columns, func(i, j int) bool {
		a, b := input.Columns[i], input.Columns[j]
		if a.Schema != b.Schema {
			return a.Schema < b.Schema
		}
		if a.Table != b.Table {
			return a.Table < b.Table
		}
		return a.Column < b.Column
	})

	return input
}

func staticDocument(x schemafilter.Exclusions) []interface{} {
	out := make([]interface{}, 0, x.Len())
	for _, e := range x.List() {
		out = append(out, map[string]interface{}{
			"schema": e.Schema,
			"table":  e.Table,
			"column": e.Column,
		})
	}
	return out
}
