package policy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/syncprobe/pkg/fivetran"
	"github.com/openfroyo/syncprobe/pkg/schemafilter"
)

func testLogger() zerolog.Logger {
	return zerolog.New(nil).Level(zerolog.Disabled)
}

func personSchema() *fivetran.SchemaConfig {
	return &fivetran.SchemaConfig{
		Schemas: map[string]fivetran.SchemaConfigSchema{
			"public": {
				Tables: map[string]fivetran.SchemaConfigTable{
					"Person": {
						Columns: map[string]fivetran.SchemaConfigColumn{
							"id":           {Enabled: true, IsPrimaryKey: fivetran.Bool(true)},
							"username":     {Enabled: true},
							"email":        {Enabled: true},
							"secret_token": {Enabled: true},
						},
					},
				},
			},
		},
	}
}

func writePolicy(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write policy: %v", err)
	}
	return path
}

const secretPolicy = `# Never replicate secrets.
package syncprobe.exclusions

import rego.v1

exclude contains {"schema": c.schema, "table": c.table, "column": c.column, "reason": "secret"} if {
	some c in input.columns
	startswith(c.column, "secret_")
}
`

func TestNewEngine(t *testing.T) {
	eng, err := NewEngine(testLogger())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	policies := eng.ListPolicies()
	if len(policies) != len(BuiltinPolicies()) {
		t.Fatalf("Expected %d built-in policies, got %d", len(BuiltinPolicies()), len(policies))
	}
	if policies[0].Package != "syncprobe.exclusions" {
		t.Errorf("Expected package syncprobe.exclusions, got %q", policies[0].Package)
	}
	if !policies[0].Builtin {
		t.Error("Expected policy to be marked built-in")
	}
}

func TestExclusions_Builtin(t *testing.T) {
	eng, err := NewEngine(testLogger())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	excl, err := eng.Exclusions(context.Background(), personSchema())
	if err != nil {
		t.Fatalf("Exclusions failed: %v", err)
	}

	if !excl.Contains("public", "Person", "username") {
		t.Error("Expected public.Person.username to be excluded")
	}
	if excl.Len() != 1 {
		t.Errorf("Expected 1 exclusion, got %v", excl.List())
	}
}

func TestExclusions_OnlyDiscoveredColumns(t *testing.T) {
	eng, err := NewEngine(testLogger())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	discovered := &fivetran.SchemaConfig{
		Schemas: map[string]fivetran.SchemaConfigSchema{
			"public": {Tables: map[string]fivetran.SchemaConfigTable{
				"Movie": {Columns: map[string]fivetran.SchemaConfigColumn{"title": {Enabled: true}}},
			}},
		},
	}

	result, err := eng.Evaluate(context.Background(), discovered)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Exclusions.Len() != 0 {
		t.Errorf("Expected no exclusions, got %v", result.Exclusions.List())
	}
	if len(result.EvaluatedPolicies) != 1 {
		t.Errorf("Expected 1 evaluated policy, got %v", result.EvaluatedPolicies)
	}
}

func TestExclusions_NilSchema(t *testing.T) {
	eng, err := NewEngine(testLogger())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	excl, err := eng.Exclusions(context.Background(), nil)
	if err != nil {
		t.Fatalf("Exclusions failed: %v", err)
	}
	if excl.Len() != 0 {
		t.Errorf("Expected no exclusions, got %v", excl.List())
	}
}

func TestLoadPolicies(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "secrets.rego", secretPolicy)

	eng, err := NewEngine(testLogger())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}

	result, err := eng.Evaluate(context.Background(), personSchema())
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	for _, col := range []string{"username", "secret_token"} {
		if !result.Exclusions.Contains("public", "Person", col) {
			t.Errorf("Expected %s to be excluded", col)
		}
	}
	if result.Exclusions.Contains("public", "Person", "email") {
		t.Error("email should not be excluded")
	}

	var found bool
	for _, d := range result.Decisions {
		if d.Policy == "secrets" && d.Column == "secret_token" {
			found = true
			if d.Reason != "secret" {
				t.Errorf("Expected reason 'secret', got %q", d.Reason)
			}
		}
	}
	if !found {
		t.Error("Expected a decision from the secrets policy")
	}
}

func TestLoadPolicies_CompileError(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "broken.rego", "package broken\n\nexclude contains x if {")

	eng, err := NewEngine(testLogger())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	if err := eng.LoadPolicies(context.Background(), []string{dir}); err == nil {
		t.Fatal("Expected compile error")
	}
}

func TestEvaluate_MalformedDecision(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "partial.rego", `package partial

import rego.v1

exclude contains {"schema": c.schema, "table": c.table} if {
	some c in input.columns
}
`)

	eng, err := NewEngine(testLogger())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}

	if _, err := eng.Exclusions(context.Background(), personSchema()); err == nil {
		t.Fatal("Expected error for exclusion without column")
	}
}

func TestStaticExclusions(t *testing.T) {
	eng, err := NewEngine(testLogger(), WithStaticExclusions(
		schemafilter.Exclusion{Schema: "public", Table: "Person", Column: "email"},
	))
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	result, err := eng.Evaluate(context.Background(), personSchema())
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Static != 1 {
		t.Errorf("Expected 1 static exclusion, got %d", result.Static)
	}
	if !result.Exclusions.Contains("public", "Person", "email") {
		t.Error("Expected static exclusion to be merged")
	}
	if !result.Exclusions.Contains("public", "Person", "username") {
		t.Error("Expected built-in exclusion to remain")
	}
}

func TestStaticExclusions_VisibleToPolicies(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "mirror.rego", `package mirror

import rego.v1

exclude contains {"schema": s.schema, "table": s.table, "column": "id"} if {
	some s in data.syncprobe.static
}
`)

	eng, err := NewEngine(testLogger(), WithStaticExclusions(
		schemafilter.Exclusion{Schema: "public", Table: "Person", Column: "email"},
	))
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}

	excl, err := eng.Exclusions(context.Background(), personSchema())
	if err != nil {
		t.Fatalf("Exclusions failed: %v", err)
	}
	if !excl.Contains("public", "Person", "id") {
		t.Error("Expected policy to read data.syncprobe.static")
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng, err := NewEngine(testLogger())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	if err := eng.DisablePolicy("computed-properties"); err != nil {
		t.Fatalf("DisablePolicy failed: %v", err)
	}

	excl, err := eng.Exclusions(context.Background(), personSchema())
	if err != nil {
		t.Fatalf("Exclusions failed: %v", err)
	}
	if excl.Len() != 0 {
		t.Errorf("Expected no exclusions with policy disabled, got %v", excl.List())
	}

	if err := eng.EnablePolicy("computed-properties"); err != nil {
		t.Fatalf("EnablePolicy failed: %v", err)
	}
	p, err := eng.GetPolicy("computed-properties")
	if err != nil {
		t.Fatalf("GetPolicy failed: %v", err)
	}
	if !p.Enabled {
		t.Error("Expected policy to be enabled")
	}

	if err := eng.DisablePolicy("missing"); !errors.Is(err, ErrPolicyNotFound) {
		t.Errorf("Expected ErrPolicyNotFound, got %v", err)
	}
}

func TestReplacePolicies(t *testing.T) {
	eng, err := NewEngine(testLogger())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	ctx := context.Background()

	err = eng.ReplacePolicies(ctx, []Policy{{Name: "secrets", Rego: secretPolicy, Enabled: true}})
	if err != nil {
		t.Fatalf("ReplacePolicies failed: %v", err)
	}
	if len(eng.ListPolicies()) != 2 {
		t.Fatalf("Expected built-in plus 1 policy, got %d", len(eng.ListPolicies()))
	}

	// A broken set leaves the current policies in place.
	err = eng.ReplacePolicies(ctx, []Policy{{Name: "broken", Rego: "package broken\nexclude contains", Enabled: true}})
	if err == nil {
		t.Fatal("Expected compile error")
	}
	if _, err := eng.GetPolicy("secrets"); err != nil {
		t.Errorf("Expected secrets policy to survive a failed replace: %v", err)
	}

	if err := eng.ReplacePolicies(ctx, nil); err != nil {
		t.Fatalf("ReplacePolicies failed: %v", err)
	}
	if _, err := eng.GetPolicy("secrets"); !errors.Is(err, ErrPolicyNotFound) {
		t.Errorf("Expected secrets policy to be removed, got %v", err)
	}
}

func TestBuildInput(t *testing.T) {
	input := BuildInput(personSchema())

	if len(input.Columns) != 4 {
		t.Fatalf("Expected 4 columns, got %d", len(input.Columns))
	}

	want := []string{"email", "id", "secret_token", "username"}
	for i, col := range input.Columns {
		if col.Column != want[i] {
			t.Errorf("Column %d: expected %s, got %s", i, want[i], col.Column)
		}
	}
	if !input.Columns[1].IsPrimaryKey {
		t.Error("Expected id to be a primary key")
	}
}
