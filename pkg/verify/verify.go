// Package verify checks a destination warehouse after a sync.
//
// The check compares the submitted schema update with the destination
// catalog: every enabled table and column must exist, and no excluded
// column may have been loaded. Columns the platform adds for its own
// bookkeeping (prefixed _fivetran_) are ignored.
package verify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/openfroyo/syncprobe/pkg/engine"
	"github.com/openfroyo/syncprobe/pkg/fivetran"
)

// SystemColumnPrefix starts the name of columns added by the platform.
const SystemColumnPrefix = "_fivetran_"

// Snapshot maps destination schema to table to column names, as stored in
// the warehouse.
type Snapshot map[string]map[string][]string

// Catalog reads the destination catalog.
type Catalog interface {
	// Columns returns the columns of every table in the given schemas.
	// Schemas that do not exist are absent from the result.
	Columns(ctx context.Context, schemas []string) (Snapshot, error)
}

// Verifier implements engine.Verifier against a Catalog.
type Verifier struct {
	catalog Catalog
	logger  zerolog.Logger
}

var _ engine.Verifier = (*Verifier)(nil)

// Option configures a Verifier.
type Option func(*Verifier)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(v *Verifier) {
		v.logger = logger
	}
}

// New creates a Verifier reading catalog.
func New(catalog Catalog, opts ...Option) *Verifier {
	v := &Verifier{
		catalog: catalog,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = v.logger.With().Str("component", "verifier").Logger()
	return v
}

// Verify reads the catalog of every schema in the update and compares it.
// A mismatch is reported in the returned report; an error means the
// catalog could not be read.
func (v *Verifier) Verify(ctx context.Context, req engine.VerifyRequest) (*engine.VerifyReport, error) {
	schemas := DestinationSchemas(req)
	if len(schemas) == 0 {
		return &engine.VerifyReport{Passed: true}, nil
	}

	snapshot, err := v.catalog.Columns(ctx, schemas)
	if err != nil {
		return nil, fmt.Errorf("failed to read destination catalog: %w", err)
	}

	report := Compare(req, snapshot)

	event := v.logger.Info()
	if !report.Passed {
		event = v.logger.Warn().Strs("problems", report.Problems)
	}
	event.Int("checked", report.Checked).Bool("passed", report.Passed).Msg("Destination verified")

	return report, nil
}

// DestinationSchemas returns the sorted destination schema names of every
// enabled schema in the update.
func DestinationSchemas(req engine.VerifyRequest) []string {
	out := make([]string, 0, len(req.Update))
	for name, schema := range req.Update {
		if schema.Enabled {
			out = append(out, engine.DestinationSchema(req.SchemaPrefix, name))
		}
	}
	sort.Strings(out)
	return out
}

// Compare checks snapshot against the update. Names are matched after
// normalisation because the warehouse stores them lower-cased and
// snake-cased. Problems are sorted.
func Compare(req engine.VerifyRequest, snapshot Snapshot) *engine.VerifyReport {
	report := &engine.VerifyReport{}

	for schemaName, schema := range req.Update {
		if !schema.Enabled {
			continue
		}
		destSchema := engine.DestinationSchema(req.SchemaPrefix, schemaName)
		tables := indexTables(snapshot[destSchema])

		for tableName, table := range schema.Tables {
			if !table.Enabled {
				continue
			}
			report.Checked++

			columns, ok := tables[Normalize(tableName)]
			if !ok {
				report.Problems = append(report.Problems,
					fmt.Sprintf("table %s.%s is missing (source %s.%s)", destSchema, Normalize(tableName), schemaName, tableName))
				continue
			}

			report.Problems = append(report.Problems, compareColumns(destSchema, tableName, table, columns)...)
			report.Checked += len(table.Columns)
		}
	}

	sort.Strings(report.Problems)
	report.Passed = len(report.Problems) == 0
	return report
}

func compareColumns(destSchema, tableName string, table fivetran.TableUpdate, present map[string]bool) []string {
	var problems []string
	for columnName, column := range table.Columns {
		loaded := present[Normalize(columnName)]
		switch {
		case column.Enabled && !loaded:
			problems = append(problems,
				fmt.Sprintf("column %s.%s.%s is missing", destSchema, Normalize(tableName), columnName))
		case !column.Enabled && loaded:
			problems = append(problems,
				fmt.Sprintf("excluded column %s.%s.%s was loaded", destSchema, Normalize(tableName), columnName))
		}
	}
	return problems
}

// indexTables keys tables and their user columns by normalised name.
func indexTables(tables map[string][]string) map[string]map[string]bool {
	out := make(map[string]map[string]bool, len(tables))
	for table, columns := range tables {
		set := make(map[string]bool, len(columns))
		for _, c := range columns {
			if strings.HasPrefix(c, SystemColumnPrefix) {
				continue
			}
			set[Normalize(c)] = true
		}
		out[Normalize(table)] = set
	}
	return out
}

// Normalize converts a source identifier to the form the warehouse stores:
// lower snake case, so "createdAt" and "created_at" both become
// "created_at" and "Person" becomes "person".
func Normalize(name string) string {
	var b strings.Builder
	b.Grow(len(name) + 4)

	runes := []rune(name)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && runes[i-1] != '_' && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]) ||
				(i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			r = '_'
		}
		b.WriteRune(r)
	}
	return b.String()
}
