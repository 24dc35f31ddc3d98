package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/syncprobe/pkg/fivetran"
	"github.com/openfroyo/syncprobe/pkg/policy"
	"github.com/openfroyo/syncprobe/pkg/schemafilter"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"plain error", errors.New("boom"), exitError},
		{"run failed", withExitCode(exitRunFailed, errors.New("failed")), exitRunFailed},
		{"wrapped invalid config", fmt.Errorf("load: %w", withExitCode(exitInvalidConf, errors.New("bad"))), exitInvalidConf},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}

	if withExitCode(exitRunFailed, nil) != nil {
		t.Error("withExitCode(nil) should return nil")
	}
}

func TestValidateOutputFormat(t *testing.T) {
	for _, f := range []string{formatText, formatJSON, formatYAML} {
		if err := validateOutputFormat(f); err != nil {
			t.Errorf("validateOutputFormat(%q) error = %v", f, err)
		}
	}
	if err := validateOutputFormat("xml"); err == nil {
		t.Error("expected error for xml")
	}
}

func TestRender(t *testing.T) {
	v := struct {
		Name string `json:"name" yaml:"name"`
	}{"probe"}
	text := func(w io.Writer) error {
		_, err := io.WriteString(w, "text output\n")
		return err
	}

	var buf bytes.Buffer
	if err := render(&buf, formatJSON, v, text); err != nil {
		t.Fatalf("render json: %v", err)
	}
	if !strings.Contains(buf.String(), `"name": "probe"`) {
		t.Errorf("unexpected json output: %s", buf.String())
	}

	buf.Reset()
	if err := render(&buf, formatYAML, v, text); err != nil {
		t.Fatalf("render yaml: %v", err)
	}
	if buf.String() != "name: probe\n" {
		t.Errorf("unexpected yaml output: %q", buf.String())
	}

	buf.Reset()
	if err := render(&buf, formatText, v, text); err != nil {
		t.Fatalf("render text: %v", err)
	}
	if buf.String() != "text output\n" {
		t.Errorf("unexpected text output: %q", buf.String())
	}
}

func TestTable(t *testing.T) {
	var buf bytes.Buffer
	if err := table(&buf, []string{"KIND", "ID"}, [][]string{{"group", "grp_1"}, {"connector", "conn_1"}}); err != nil {
		t.Fatalf("table: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), buf.String())
	}
	// Columns are aligned on the widest cell.
	if idx := strings.Index(lines[2], "conn_1"); idx != strings.Index(lines[0], "ID") {
		t.Errorf("columns not aligned:\n%s", buf.String())
	}
}

func TestRootCommandHasSubcommands(t *testing.T) {
	root := newRootCommand("test", "abc", "today")

	want := []string{"run", "gc", "teardown", "schema", "policy", "runs", "validate-config"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd == root {
			t.Errorf("subcommand %q not registered", name)
		}
	}

	for _, name := range []string{"list", "show", "audit", "live", "delete"} {
		cmd, _, err := root.Find([]string{"runs", name})
		if err != nil || cmd.Name() != name {
			t.Errorf("subcommand runs %q not registered", name)
		}
	}
}

func TestTeardownRequiresTarget(t *testing.T) {
	root := newRootCommand("test", "abc", "today")
	root.SetOut(io.Discard)
	root.SetArgs([]string{"teardown"})

	err := root.ExecuteContext(context.Background())
	if err == nil || !strings.Contains(err.Error(), "--run") {
		t.Errorf("expected missing target error, got %v", err)
	}

	root.SetArgs([]string{"teardown", "--run", "r1", "--group", "grp_1"})
	err = root.ExecuteContext(context.Background())
	if err == nil || !strings.Contains(err.Error(), "cannot be combined") {
		t.Errorf("expected conflict error, got %v", err)
	}
}

func TestCheckConfig(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	valid := filepath.Join(dir, "valid.yaml")
	writeFile(t, valid, `
source:
  host: src.example.com
destination:
  host: dst.example.com
`)
	result := checkConfig(valid, false, false)
	if !result.Valid {
		t.Fatalf("expected valid config, got problems %v", result.Problems)
	}

	result = checkConfig(valid, true, true)
	if result.Valid {
		t.Fatal("expected missing credentials to be reported")
	}
	if len(result.Problems) != 1 || !strings.Contains(result.Problems[0].Message, "credentials") {
		t.Errorf("unexpected problems: %v", result.Problems)
	}

	invalid := filepath.Join(dir, "invalid.yaml")
	writeFile(t, invalid, `
run:
  sync_frequency: 7
  schema_change_handling: NOPE
`)
	result = checkConfig(invalid, false, false)
	if result.Valid {
		t.Fatal("expected invalid config")
	}
	paths := map[string]bool{}
	for _, p := range result.Problems {
		paths[p.Path] = true
	}
	for _, want := range []string{"run.sync_frequency", "run.schema_change_handling"} {
		if !paths[want] {
			t.Errorf("expected a problem at %s, got %v", want, result.Problems)
		}
	}

	var buf bytes.Buffer
	if err := result.text(&buf); err != nil {
		t.Fatalf("text: %v", err)
	}
	if !strings.Contains(buf.String(), "run.sync_frequency") {
		t.Errorf("text output missing path: %s", buf.String())
	}
}

func TestCheckConfigMissingFile(t *testing.T) {
	clearEnv(t)

	result := checkConfig(filepath.Join(t.TempDir(), "missing.yaml"), false, false)
	if result.Valid || len(result.Problems) != 1 {
		t.Fatalf("expected one problem, got %+v", result)
	}
	if result.Problems[0].Severity != "error" {
		t.Errorf("Severity = %q, want error", result.Problems[0].Severity)
	}
}

func TestReadSchemaFile(t *testing.T) {
	dir := t.TempDir()
	schema := `{"schemas":{"public":{"name_in_destination":"public","enabled":true,"tables":{}}}}`

	bare := filepath.Join(dir, "bare.json")
	writeFile(t, bare, schema)
	got, err := readSchemaFile(bare)
	if err != nil {
		t.Fatalf("readSchemaFile(bare): %v", err)
	}
	if _, ok := got.Schemas["public"]; !ok {
		t.Errorf("schema public missing: %+v", got)
	}

	wrapped := filepath.Join(dir, "wrapped.json")
	writeFile(t, wrapped, `{"code":"Success","data":`+schema+`}`)
	got, err = readSchemaFile(wrapped)
	if err != nil {
		t.Fatalf("readSchemaFile(wrapped): %v", err)
	}
	if _, ok := got.Schemas["public"]; !ok {
		t.Errorf("schema public missing: %+v", got)
	}

	empty := filepath.Join(dir, "empty.json")
	writeFile(t, empty, `{}`)
	if _, err := readSchemaFile(empty); err == nil {
		t.Error("expected error for a file without schemas")
	}
}

func TestPreviewSchema(t *testing.T) {
	eng, err := policy.NewEngine(zerolog.Nop(), policy.WithStaticExclusions(
		schemafilter.Exclusion{Schema: "public", Table: "Person", Column: "email"},
	))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	discovered := &fivetran.SchemaConfig{
		Schemas: map[string]fivetran.SchemaConfigSchema{
			"public": {
				Enabled: true,
				Tables: map[string]fivetran.SchemaConfigTable{
					"Person": {
						Enabled: true,
						Columns: map[string]fivetran.SchemaConfigColumn{
							"id":       {Enabled: true},
							"email":    {Enabled: true},
							"username": {Enabled: true},
						},
					},
				},
			},
		},
	}

	preview, err := previewSchema(context.Background(), eng, discovered, fivetran.SchemaChangeHandling("BLOCK_ALL"))
	if err != nil {
		t.Fatalf("previewSchema: %v", err)
	}

	if preview.Summary.Columns != 3 || preview.Summary.DisabledColumns != 2 {
		t.Errorf("unexpected summary: %+v", preview.Summary)
	}
	if len(preview.Changes) != 2 {
		t.Fatalf("expected 2 changes, got %+v", preview.Changes)
	}
	if preview.Changes[0].Column != "email" || preview.Changes[1].Column != "username" {
		t.Errorf("unexpected change order: %+v", preview.Changes)
	}
	if preview.Static != 1 {
		t.Errorf("Static = %d, want 1", preview.Static)
	}
	if preview.Request == nil || preview.Request.SchemaChangeHandling != "BLOCK_ALL" {
		t.Errorf("unexpected request: %+v", preview.Request)
	}

	// The discovered tree is left untouched.
	if !discovered.Schemas["public"].Tables["Person"].Columns["email"].Enabled {
		t.Error("previewSchema modified the discovered schema")
	}

	b, err := json.Marshal(preview)
	if err != nil {
		t.Fatalf("marshal preview: %v", err)
	}
	if !strings.Contains(string(b), `"computed-properties"`) {
		t.Errorf("expected the built-in policy decision in %s", b)
	}
}

func TestPolicyTable(t *testing.T) {
	var buf bytes.Buffer
	err := policyTable(&buf, []policy.Policy{
		{Name: "computed-properties", Package: "syncprobe.exclusions", Enabled: true, Builtin: true},
		{Name: "pii", Source: "/etc/syncprobe/pii.rego"},
	})
	if err != nil {
		t.Fatalf("policyTable: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"builtin", "/etc/syncprobe/pii.rego", "false"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// clearEnv unsets the variables that would leak credentials into tests.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, "FIVETRAN_") || strings.HasPrefix(name, "SYNCPROBE_") {
			t.Setenv(name, "")
			os.Unsetenv(name)
		}
	}
}
