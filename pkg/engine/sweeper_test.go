package engine

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/openfroyo/syncprobe/pkg/fivetran"
)

var sweepNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func ago(d time.Duration) string {
	return sweepNow.Add(-d).Format(time.RFC3339)
}

func TestIsOld(t *testing.T) {
	tests := []struct {
		name      string
		createdAt string
		want      bool
	}{
		{"exactly at threshold", ago(15 * time.Minute), true},
		{"past threshold", ago(16 * time.Minute), true},
		{"before threshold", ago(14 * time.Minute), false},
		{"just created", ago(0), false},
		{"created in the future", sweepNow.Add(time.Minute).Format(time.RFC3339), false},
		{"unparseable", "not a timestamp", true},
		{"empty", "", true},
		{"fractional seconds", sweepNow.Add(-20 * time.Minute).Format(time.RFC3339Nano), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsOld(tt.createdAt, sweepNow, DefaultMaxAge); got != tt.want {
				t.Errorf("IsOld(%q) = %v, want %v", tt.createdAt, got, tt.want)
			}
		})
	}
}

func newSweepFixture() *fakePlatform {
	f := newFakePlatform()
	f.connectors["c_old"] = &fivetran.Connector{ID: "c_old", GroupID: "g_old", CreatedAt: ago(15 * time.Minute)}
	f.connectors["c_new"] = &fivetran.Connector{ID: "c_new", GroupID: "g_new", CreatedAt: ago(14 * time.Minute)}
	f.connectors["c_bad"] = &fivetran.Connector{ID: "c_bad", GroupID: "g_new", CreatedAt: "garbage"}

	f.groups["g_old"] = &fivetran.Group{ID: "g_old", Name: "test_2024_03_01T11_40_00", CreatedAt: ago(20 * time.Minute)}
	f.groups["g_new"] = &fivetran.Group{ID: "g_new", Name: "test_2024_03_01T11_55_00", CreatedAt: ago(5 * time.Minute)}
	f.destinations["d_old"] = &fivetran.Destination{ID: "d_old", GroupID: "g_old"}
	f.destinations["d_new"] = &fivetran.Destination{ID: "d_new", GroupID: "g_new"}
	return f
}

func deletedIDs(r *SweepReport) []string {
	ids := make([]string, 0, len(r.Deleted))
	for _, d := range r.Deleted {
		ids = append(ids, string(d.Kind)+" "+d.ID)
	}
	sort.Strings(ids)
	return ids
}

func TestSweep_DeletesOldResources(t *testing.T) {
	f := newSweepFixture()
	rec := &recordingRecorder{}
	s := NewSweeper(f, WithSweeperClock(func() time.Time { return sweepNow }), WithSweeperRecorder(rec))

	report, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	want := []string{"connector c_bad", "connector c_old", "destination d_old", "group g_old"}
	got := deletedIDs(report)
	if len(got) != len(want) {
		t.Fatalf("deleted = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("deleted[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if report.Kept != 2 {
		t.Errorf("kept = %d, want 2", report.Kept)
	}
	if _, ok := f.connectors["c_new"]; !ok {
		t.Error("young connector was deleted")
	}
	if _, ok := f.groups["g_new"]; !ok {
		t.Error("young group was deleted")
	}
	if len(rec.deleted) != 4 {
		t.Errorf("recorded deletions = %v, want 4", rec.deleted)
	}
	if report.Count(ResourceConnector) != 2 {
		t.Errorf("connector count = %d, want 2", report.Count(ResourceConnector))
	}
}

func TestSweep_DestinationBeforeGroup(t *testing.T) {
	f := newSweepFixture()
	s := NewSweeper(f, WithSweeperClock(func() time.Time { return sweepNow }))

	if _, err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}

	dest, group := -1, -1
	for i, c := range f.callLog() {
		switch c {
		case "delete destination d_old":
			dest = i
		case "delete group g_old":
			group = i
		}
	}
	if dest < 0 || group < 0 || dest > group {
		t.Errorf("destination deleted at %d, group at %d; want destination first", dest, group)
	}
}

func TestSweep_FailFastStopsAtFirstError(t *testing.T) {
	f := newSweepFixture()
	f.failDelete["connector c_old"] = true
	f.failDelete["connector c_bad"] = true
	s := NewSweeper(f, WithSweeperClock(func() time.Time { return sweepNow }))

	report, err := s.Sweep(context.Background())
	if err == nil {
		t.Fatal("Sweep() error = nil, want failure")
	}
	if countCalls(f.callLog(), "delete connector") != 1 {
		t.Errorf("fail-fast attempted more than one deletion: %v", f.callLog())
	}
	if countCalls(f.callLog(), "delete destination") != 0 {
		t.Error("fail-fast continued to the destination sweep")
	}
	if len(report.Failures) != 1 {
		t.Errorf("failures = %v, want 1", report.Failures)
	}
}

func TestSweep_BestEffortJoinsErrors(t *testing.T) {
	f := newSweepFixture()
	f.failDelete["connector c_old"] = true
	f.failDelete["connector c_bad"] = true
	s := NewSweeper(f, WithSweeperClock(func() time.Time { return sweepNow }))
	s.Mode = ModeBestEffort

	report, err := s.Sweep(context.Background())
	if err == nil {
		t.Fatal("Sweep() error = nil, want joined failures")
	}
	if !errors.Is(err, fivetran.ErrRemote) {
		t.Errorf("joined error %v does not match ErrRemote", err)
	}
	if len(report.Failures) != 2 {
		t.Errorf("failures = %v, want 2", report.Failures)
	}
	if _, ok := f.groups["g_old"]; ok {
		t.Error("best-effort sweep did not reach the old group")
	}
}

func TestSweep_NotFoundIsDeleted(t *testing.T) {
	f := newFakePlatform()
	f.destinations["d_orphan"] = &fivetran.Destination{ID: "d_orphan", GroupID: "g_gone"}
	s := NewSweeper(f, WithSweeperClock(func() time.Time { return sweepNow }))

	report, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if report.Count(ResourceDestination) != 1 {
		t.Errorf("orphan destination not swept: %+v", report)
	}
}

func TestSweep_OrphanGroups(t *testing.T) {
	f := newFakePlatform()
	f.groups["g_run"] = &fivetran.Group{ID: "g_run", Name: "test_2024_03_01T11_00_00", CreatedAt: ago(time.Hour)}
	f.groups["g_prod"] = &fivetran.Group{ID: "g_prod", Name: "production", CreatedAt: ago(time.Hour)}

	s := NewSweeper(f, WithSweeperClock(func() time.Time { return sweepNow }))
	if _, err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if len(f.groups) != 2 {
		t.Fatal("groups swept without OrphanGroups")
	}

	s.OrphanGroups = true
	report, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if report.Count(ResourceGroup) != 1 {
		t.Errorf("group deletions = %d, want 1", report.Count(ResourceGroup))
	}
	if _, ok := f.groups["g_prod"]; !ok {
		t.Error("group not named like a run group was deleted")
	}
}
