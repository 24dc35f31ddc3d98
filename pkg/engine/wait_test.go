package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/syncprobe/pkg/fivetran"
)

type fakeClock struct {
	t      time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	c.t = c.t.Add(d)
	return nil
}

func newTestPoller(f *fakePlatform, clock *fakeClock) *Poller {
	p := NewPoller(f)
	p.sleep = clock.sleep
	p.now = clock.now
	return p
}

func countCalls(calls []string, prefix string) int {
	n := 0
	for _, c := range calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func provisionConnector(t *testing.T, f *fakePlatform) string {
	t.Helper()
	conn, err := f.CreateConnector(context.Background(), fivetran.NewConnectorRequest{GroupID: "g"})
	if err != nil {
		t.Fatalf("CreateConnector() error = %v", err)
	}
	return conn.ID
}

func TestWaitForSetup_PollsUntilConnected(t *testing.T) {
	f := newFakePlatform()
	f.setupStates = []fivetran.SetupState{fivetran.SetupIncomplete, fivetran.SetupIncomplete, fivetran.SetupConnected}
	id := provisionConnector(t, f)
	clock := newFakeClock()

	conn, err := newTestPoller(f, clock).WaitForSetup(context.Background(), id, WaitOptions{})
	if err != nil {
		t.Fatalf("WaitForSetup() error = %v", err)
	}
	if !conn.Status.SetupState.IsConnected() {
		t.Errorf("setup state = %s, want connected", conn.Status.SetupState)
	}
	if got := countCalls(f.callLog(), "get connector"); got != 3 {
		t.Errorf("fetches = %d, want 3", got)
	}
	if len(clock.sleeps) != 2 {
		t.Fatalf("sleeps = %d, want 2", len(clock.sleeps))
	}
	for _, d := range clock.sleeps {
		if d != DefaultPollInterval {
			t.Errorf("sleep = %s, want %s", d, DefaultPollInterval)
		}
	}
}

func TestWaitForSetup_MaxAttempts(t *testing.T) {
	f := newFakePlatform()
	f.setupStates = []fivetran.SetupState{fivetran.SetupIncomplete}
	id := provisionConnector(t, f)
	clock := newFakeClock()

	_, err := newTestPoller(f, clock).WaitForSetup(context.Background(), id, WaitOptions{MaxAttempts: 4})
	if !IsWaitTimeout(err) {
		t.Fatalf("WaitForSetup() error = %v, want wait timeout", err)
	}

	var werr *WaitError
	if !errors.As(err, &werr) {
		t.Fatalf("error %T is not a *WaitError", err)
	}
	if werr.Attempts != 4 {
		t.Errorf("attempts = %d, want 4", werr.Attempts)
	}
	if werr.Phase != PhaseSetupWait {
		t.Errorf("phase = %s, want %s", werr.Phase, PhaseSetupWait)
	}
	if werr.LastState != string(fivetran.SetupIncomplete) {
		t.Errorf("last state = %q, want incomplete", werr.LastState)
	}
	if got := countCalls(f.callLog(), "get connector"); got != 4 {
		t.Errorf("fetches = %d, want 4", got)
	}
}

func TestWaitForSetup_Timeout(t *testing.T) {
	f := newFakePlatform()
	f.setupStates = []fivetran.SetupState{fivetran.SetupIncomplete}
	id := provisionConnector(t, f)
	clock := newFakeClock()

	opts := WaitOptions{Interval: 10 * time.Second, Timeout: 25 * time.Second}
	_, err := newTestPoller(f, clock).WaitForSetup(context.Background(), id, opts)
	if !errors.Is(err, ErrWaitTimeout) {
		t.Fatalf("WaitForSetup() error = %v, want ErrWaitTimeout", err)
	}

	// The last sleep is shortened to the remaining budget.
	want := []time.Duration{10 * time.Second, 10 * time.Second, 5 * time.Second}
	if len(clock.sleeps) != len(want) {
		t.Fatalf("sleeps = %v, want %v", clock.sleeps, want)
	}
	for i := range want {
		if clock.sleeps[i] != want[i] {
			t.Errorf("sleep[%d] = %s, want %s", i, clock.sleeps[i], want[i])
		}
	}
}

func TestWaitForSetup_Broken(t *testing.T) {
	t.Run("keeps polling by default", func(t *testing.T) {
		f := newFakePlatform()
		f.setupStates = []fivetran.SetupState{fivetran.SetupBroken, fivetran.SetupConnected}
		id := provisionConnector(t, f)

		if _, err := newTestPoller(f, newFakeClock()).WaitForSetup(context.Background(), id, WaitOptions{}); err != nil {
			t.Fatalf("WaitForSetup() error = %v", err)
		}
	})

	t.Run("fails when requested", func(t *testing.T) {
		f := newFakePlatform()
		f.setupStates = []fivetran.SetupState{fivetran.SetupBroken, fivetran.SetupConnected}
		id := provisionConnector(t, f)

		_, err := newTestPoller(f, newFakeClock()).WaitForSetup(context.Background(), id, WaitOptions{FailOnBroken: true})
		if !errors.Is(err, ErrSetupBroken) {
			t.Fatalf("WaitForSetup() error = %v, want ErrSetupBroken", err)
		}
		if IsWaitTimeout(err) {
			t.Error("broken setup must not look like a timeout")
		}
	})
}

func TestWaitForSetup_Cancelled(t *testing.T) {
	f := newFakePlatform()
	f.setupStates = []fivetran.SetupState{fivetran.SetupIncomplete}
	id := provisionConnector(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestPoller(f, newFakeClock()).WaitForSetup(ctx, id, WaitOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("WaitForSetup() error = %v, want context.Canceled", err)
	}
	if IsWaitTimeout(err) {
		t.Error("cancellation must not look like a timeout")
	}
}

func TestWaitForSetup_FetchError(t *testing.T) {
	f := newFakePlatform()
	_, err := newTestPoller(f, newFakeClock()).WaitForSetup(context.Background(), "missing", WaitOptions{})
	if !fivetran.IsNotFound(err) {
		t.Fatalf("WaitForSetup() error = %v, want not found", err)
	}
}

func TestRunHistoricalSync_Outcomes(t *testing.T) {
	tests := []struct {
		name    string
		script  []syncStep
		want    SyncOutcome
		polls   int
		fetches int
	}{
		{
			name:    "succeeds after polling",
			script:  []syncStep{{}, {}, {succeededAt: "2024-01-01T00:10:00Z"}},
			want:    SyncSucceeded,
			polls:   3,
			fetches: 2,
		},
		{
			name:    "failure is an outcome",
			script:  []syncStep{{}, {failedAt: "2024-01-01T00:10:00Z"}},
			want:    SyncFailed,
			polls:   2,
			fetches: 1,
		},
		{
			name:    "already finished on trigger",
			script:  []syncStep{{succeededAt: "2024-01-01T00:10:00Z"}},
			want:    SyncSucceeded,
			polls:   1,
			fetches: 0,
		},
		{
			name:   "both set, later success wins",
			script: []syncStep{{succeededAt: "2024-01-01T00:10:00Z", failedAt: "2024-01-01T00:05:00Z"}},
			want:   SyncSucceeded,
			polls:  1,
		},
		{
			name:   "both set, later failure wins",
			script: []syncStep{{succeededAt: "2024-01-01T00:05:00Z", failedAt: "2024-01-01T00:10:00Z"}},
			want:   SyncFailed,
			polls:  1,
		},
		{
			name:   "both set, unparseable counts as failed",
			script: []syncStep{{succeededAt: "yesterday", failedAt: "2024-01-01T00:10:00Z"}},
			want:   SyncFailed,
			polls:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakePlatform()
			f.syncScript = tt.script
			id := provisionConnector(t, f)

			res, err := newTestPoller(f, newFakeClock()).RunHistoricalSync(context.Background(), id, WaitOptions{})
			if err != nil {
				t.Fatalf("RunHistoricalSync() error = %v", err)
			}
			if res.Outcome != tt.want {
				t.Errorf("outcome = %s, want %s", res.Outcome, tt.want)
			}
			if res.Polls != tt.polls {
				t.Errorf("polls = %d, want %d", res.Polls, tt.polls)
			}
			calls := f.callLog()
			if got := countCalls(calls, "start sync"); got != 1 {
				t.Errorf("sync triggers = %d, want 1", got)
			}
			if got := countCalls(calls, "get connector"); got != tt.fetches {
				t.Errorf("fetches = %d, want %d", got, tt.fetches)
			}
		})
	}
}

func TestRunHistoricalSync_TriggersUnpausedHistoricalSync(t *testing.T) {
	f := newFakePlatform()
	id := provisionConnector(t, f)

	res, err := newTestPoller(f, newFakeClock()).RunHistoricalSync(context.Background(), id, WaitOptions{})
	if err != nil {
		t.Fatalf("RunHistoricalSync() error = %v", err)
	}
	if res.Connector.Paused {
		t.Error("connector still paused after trigger")
	}
	if !res.Connector.Status.IsHistoricalSync {
		t.Error("is_historical_sync not set after trigger")
	}
}

func TestRunHistoricalSync_MaxAttempts(t *testing.T) {
	f := newFakePlatform()
	f.syncScript = []syncStep{{}}
	id := provisionConnector(t, f)

	_, err := newTestPoller(f, newFakeClock()).RunHistoricalSync(context.Background(), id, WaitOptions{MaxAttempts: 3})
	var werr *WaitError
	if !errors.As(err, &werr) || !IsWaitTimeout(err) {
		t.Fatalf("RunHistoricalSync() error = %v, want wait timeout", err)
	}
	if werr.Phase != PhaseSyncWait || werr.Attempts != 3 {
		t.Errorf("wait error = %+v, want sync_wait after 3 attempts", werr)
	}
}
