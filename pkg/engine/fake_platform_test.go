package engine

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/openfroyo/syncprobe/pkg/fivetran"
)

// fakePlatform is an in-memory Platform. Connector status is scripted per
// fetch through setupStates and syncScript.
type fakePlatform struct {
	mu sync.Mutex

	groups       map[string]*fivetran.Group
	destinations map[string]*fivetran.Destination
	connectors   map[string]*fivetran.Connector
	nextID       int

	// setupStates is served one per GetConnector call during setup; the
	// last entry repeats.
	setupStates []fivetran.SetupState
	setupCalls  int

	// syncScript is served one per sync status read, starting with the
	// StartHistoricalSync response; the last entry repeats.
	syncScript []syncStep
	syncCalls  int
	syncing    bool

	discovered  *fivetran.SchemaConfig
	lastUpdate  *fivetran.SchemaUpdateRequest
	lastCreated fivetran.NewConnectorRequest

	// failDelete makes the named deletion fail with a server error.
	failDelete map[string]bool
	// failList makes ListGroupConnectors fail.
	failList bool

	calls []string
}

type syncStep struct {
	succeededAt string
	failedAt    string
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		groups:       make(map[string]*fivetran.Group),
		destinations: make(map[string]*fivetran.Destination),
		connectors:   make(map[string]*fivetran.Connector),
		setupStates:  []fivetran.SetupState{fivetran.SetupConnected},
		syncScript:   []syncStep{{succeededAt: "2024-01-01T00:10:00Z"}},
		failDelete:   make(map[string]bool),
	}
}

func (f *fakePlatform) record(format string, args ...interface{}) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakePlatform) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s_%d", prefix, f.nextID)
}

func notFound(kind, id string) error {
	return &fivetran.Error{Kind: fivetran.KindRemote, Op: "get", Status: http.StatusNotFound,
		Code: "NotFound_" + kind, Message: id + " not found"}
}

func serverError(op string) error {
	return &fivetran.Error{Kind: fivetran.KindRemote, Op: op, Status: http.StatusInternalServerError,
		Code: "InternalError", Message: "boom"}
}

func (f *fakePlatform) CreateGroup(_ context.Context, name string) (*fivetran.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := &fivetran.Group{ID: f.id("group"), Name: name, CreatedAt: "2024-01-01T00:00:00Z"}
	f.groups[g.ID] = g
	f.record("create group %s", g.ID)
	cp := *g
	return &cp, nil
}

func (f *fakePlatform) GetGroup(_ context.Context, id string) (*fivetran.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.groups[id]
	if !ok {
		return nil, notFound("Group", id)
	}
	cp := *g
	return &cp, nil
}

func (f *fakePlatform) ListGroups(context.Context) ([]fivetran.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]fivetran.Group, 0, len(f.groups))
	for _, g := range f.groups {
		out = append(out, *g)
	}
	return out, nil
}

func (f *fakePlatform) DeleteGroup(_ context.Context, id string) error {
	return f.remove("group", id, func() bool {
		_, ok := f.groups[id]
		delete(f.groups, id)
		return ok
	})
}

func (f *fakePlatform) CreateDestination(_ context.Context, req fivetran.NewDestinationRequest) (*fivetran.Destination, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := &fivetran.Destination{ID: f.id("dest"), GroupID: req.GroupID, Service: req.Service}
	f.destinations[d.ID] = d
	f.record("create destination %s", d.ID)
	cp := *d
	return &cp, nil
}

func (f *fakePlatform) ListDestinations(context.Context) ([]fivetran.Destination, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]fivetran.Destination, 0, len(f.destinations))
	for _, d := range f.destinations {
		out = append(out, *d)
	}
	return out, nil
}

func (f *fakePlatform) DeleteDestination(_ context.Context, id string) error {
	return f.remove("destination", id, func() bool {
		_, ok := f.destinations[id]
		delete(f.destinations, id)
		return ok
	})
}

func (f *fakePlatform) CreateConnector(_ context.Context, req fivetran.NewConnectorRequest) (*fivetran.Connector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fivetran.Connector{
		ID:        f.id("conn"),
		GroupID:   req.GroupID,
		Service:   req.Service,
		Paused:    true,
		CreatedAt: "2024-01-01T00:00:00Z",
		Status:    fivetran.ConnectorStatus{SetupState: fivetran.SetupIncomplete},
	}
	f.connectors[c.ID] = c
	f.lastCreated = req
	f.record("create connector %s", c.ID)
	cp := *c
	return &cp, nil
}

func (f *fakePlatform) GetConnector(_ context.Context, id string) (*fivetran.Connector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.connectors[id]
	if !ok {
		return nil, notFound("Connection", id)
	}
	if f.syncing {
		f.applySyncStep(c)
	} else {
		c.Status.SetupState = f.setupStates[min(f.setupCalls, len(f.setupStates)-1)]
		f.setupCalls++
	}
	f.record("get connector %s", id)
	cp := *c
	return &cp, nil
}

func (f *fakePlatform) StartHistoricalSync(_ context.Context, id string) (*fivetran.Connector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.connectors[id]
	if !ok {
		return nil, notFound("Connection", id)
	}
	c.Paused = false
	c.Status.IsHistoricalSync = true
	c.Status.SyncState = fivetran.SyncSyncing
	f.syncing = true
	f.applySyncStep(c)
	f.record("start sync %s", id)
	cp := *c
	return &cp, nil
}

func (f *fakePlatform) applySyncStep(c *fivetran.Connector) {
	step := f.syncScript[min(f.syncCalls, len(f.syncScript)-1)]
	f.syncCalls++
	c.SucceededAt, c.FailedAt = nil, nil
	if step.succeededAt != "" {
		c.SucceededAt = fivetran.String(step.succeededAt)
	}
	if step.failedAt != "" {
		c.FailedAt = fivetran.String(step.failedAt)
	}
}

func (f *fakePlatform) ListConnectors(context.Context) ([]fivetran.Connector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]fivetran.Connector, 0, len(f.connectors))
	for _, c := range f.connectors {
		out = append(out, *c)
	}
	return out, nil
}

func (f *fakePlatform) ListGroupConnectors(_ context.Context, groupID string) ([]fivetran.Connector, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failList {
		return nil, serverError("list_group_connectors")
	}
	if _, ok := f.groups[groupID]; !ok {
		return nil, notFound("Group", groupID)
	}
	var out []fivetran.Connector
	for _, c := range f.connectors {
		if c.GroupID == groupID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f *fakePlatform) DeleteConnector(_ context.Context, id string) error {
	return f.remove("connector", id, func() bool {
		_, ok := f.connectors[id]
		delete(f.connectors, id)
		return ok
	})
}

func (f *fakePlatform) ReloadSchema(_ context.Context, connectorID string) (*fivetran.SchemaConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("reload schema %s", connectorID)
	return f.discovered, nil
}

func (f *fakePlatform) UpdateSchema(_ context.Context, connectorID string, req *fivetran.SchemaUpdateRequest) (*fivetran.SchemaConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastUpdate = req
	f.record("update schema %s", connectorID)
	return f.discovered, nil
}

func (f *fakePlatform) remove(kind, id string, del func() bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete %s %s", kind, id)
	if f.failDelete[kind+" "+id] {
		return serverError("delete_" + kind)
	}
	if !del() {
		return notFound(kind, id)
	}
	return nil
}

func (f *fakePlatform) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// recordingRecorder captures ledger writes.
type recordingRecorder struct {
	mu       sync.Mutex
	created  []string
	deleted  []string
	started  string
	status   RunStatus
	outcome  SyncOutcome
	finished bool
}

func (r *recordingRecorder) RunStarted(_ context.Context, runID, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = runID
	return nil
}

func (r *recordingRecorder) ResourceCreated(_ context.Context, _ string, kind ResourceKind, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, string(kind)+" "+id)
	return nil
}

func (r *recordingRecorder) ResourceDeleted(_ context.Context, kind ResourceKind, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, string(kind)+" "+id)
	return nil
}

func (r *recordingRecorder) RunFinished(_ context.Context, _ string, status RunStatus, outcome SyncOutcome, _ error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status, r.outcome, r.finished = status, outcome, true
	return nil
}

func personSchema() *fivetran.SchemaConfig {
	return &fivetran.SchemaConfig{
		Schemas: map[string]fivetran.SchemaConfigSchema{
			"public": {
				Enabled: false,
				Tables: map[string]fivetran.SchemaConfigTable{
					"Person": {
						Enabled: false,
						Columns: map[string]fivetran.SchemaConfigColumn{
							"id":       {Enabled: true, IsPrimaryKey: fivetran.Bool(true)},
							"username": {Enabled: true},
							"email":    {Enabled: true},
						},
					},
				},
			},
		},
	}
}
