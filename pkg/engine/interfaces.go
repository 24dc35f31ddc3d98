package engine

import (
	"context"
	"net"
	"strconv"

	"github.com/openfroyo/syncprobe/pkg/fivetran"
	"github.com/openfroyo/syncprobe/pkg/schemafilter"
)

// ConnectorPoller is what the wait loops need from the platform.
type ConnectorPoller interface {
	GetConnector(ctx context.Context, id string) (*fivetran.Connector, error)
	StartHistoricalSync(ctx context.Context, id string) (*fivetran.Connector, error)
}

// SweepPlatform is what the retention sweeper needs from the platform.
type SweepPlatform interface {
	ListConnectors(ctx context.Context) ([]fivetran.Connector, error)
	DeleteConnector(ctx context.Context, id string) error
	ListDestinations(ctx context.Context) ([]fivetran.Destination, error)
	DeleteDestination(ctx context.Context, id string) error
	ListGroups(ctx context.Context) ([]fivetran.Group, error)
	GetGroup(ctx context.Context, id string) (*fivetran.Group, error)
	DeleteGroup(ctx context.Context, id string) error
}

// Platform is every platform operation a validation run performs.
// *fivetran.Client implements it.
type Platform interface {
	ConnectorPoller
	SweepPlatform

	CreateGroup(ctx context.Context, name string) (*fivetran.Group, error)
	CreateDestination(ctx context.Context, req fivetran.NewDestinationRequest) (*fivetran.Destination, error)
	CreateConnector(ctx context.Context, req fivetran.NewConnectorRequest) (*fivetran.Connector, error)
	ListGroupConnectors(ctx context.Context, groupID string) ([]fivetran.Connector, error)
	ReloadSchema(ctx context.Context, connectorID string) (*fivetran.SchemaConfig, error)
	UpdateSchema(ctx context.Context, connectorID string, req *fivetran.SchemaUpdateRequest) (*fivetran.SchemaConfig, error)
}

var _ Platform = (*fivetran.Client)(nil)

// ExclusionSource decides which discovered columns must not be replicated.
type ExclusionSource interface {
	Exclusions(ctx context.Context, discovered *fivetran.SchemaConfig) (schemafilter.Exclusions, error)
}

// StaticExclusions is an ExclusionSource with a fixed list.
type StaticExclusions schemafilter.Exclusions

// Exclusions implements ExclusionSource.
func (s StaticExclusions) Exclusions(context.Context, *fivetran.SchemaConfig) (schemafilter.Exclusions, error) {
	return schemafilter.Exclusions(s), nil
}

// Recorder persists the run ledger. Implementations must be safe to call
// with resources the ledger has never seen.
type Recorder interface {
	RunStarted(ctx context.Context, runID, groupName string) error
	ResourceCreated(ctx context.Context, runID string, kind ResourceKind, id string) error
	ResourceDeleted(ctx context.Context, kind ResourceKind, id string) error
	RunFinished(ctx context.Context, runID string, status RunStatus, outcome SyncOutcome, runErr error) error
}

type nopRecorder struct{}

func (nopRecorder) RunStarted(context.Context, string, string) error { return nil }
func (nopRecorder) ResourceCreated(context.Context, string, ResourceKind, string) error {
	return nil
}
func (nopRecorder) ResourceDeleted(context.Context, ResourceKind, string) error { return nil }
func (nopRecorder) RunFinished(context.Context, string, RunStatus, SyncOutcome, error) error {
	return nil
}

// Verifier checks the replicated data in the destination after a
// successful sync.
type Verifier interface {
	Verify(ctx context.Context, req VerifyRequest) (*VerifyReport, error)
}

// VerifyRequest describes what the destination should now contain.
type VerifyRequest struct {
	// SchemaPrefix is the connector schema prefix; destination schemas are
	// named "<prefix>_<source schema>".
	SchemaPrefix string

	// Update is the submitted write tree.
	Update map[string]fivetran.SchemaUpdate
}

// VerifyReport is the outcome of a verification.
type VerifyReport struct {
	Passed   bool     `json:"passed" yaml:"passed"`
	Checked  int      `json:"checked" yaml:"checked"`
	Problems []string `json:"problems,omitempty" yaml:"problems,omitempty"`
}

// Endpoint is a publicly reachable database address.
type Endpoint struct {
	Host string `json:"host" yaml:"host" validate:"required"`
	Port int    `json:"port" yaml:"port" validate:"required,gt=0,lte=65535"`
}

// String returns host:port.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Exposer makes a local address reachable from the platform.
type Exposer interface {
	Expose(ctx context.Context, localAddr string) (Endpoint, error)
	Close() error
}
