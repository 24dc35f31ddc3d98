package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/openfroyo/syncprobe/pkg/fivetran"
)

const (
	// GroupNamePrefix starts the name of every group a run creates.
	GroupNamePrefix = "test_"

	groupNameLayout = "test_2006_01_02T15_04_05"

	destinationService = "postgres_warehouse"
	connectorService   = "postgres"
)

// GroupName returns the group name for a run started at t, in UTC.
func GroupName(t time.Time) string {
	return t.UTC().Format(groupNameLayout)
}

// IsRunGroupName reports whether name was produced by GroupName.
func IsRunGroupName(name string) bool {
	if !strings.HasPrefix(name, GroupNamePrefix) {
		return false
	}
	_, err := time.Parse(groupNameLayout, name)
	return err == nil
}

// DestinationSpec describes the warehouse a run loads into.
type DestinationSpec struct {
	Endpoint       Endpoint
	User           string
	Password       string
	Database       string
	TimeZoneOffset fivetran.TimeZoneOffset
	Region         *fivetran.Region
}

// SourceSpec describes the database a run replicates from.
type SourceSpec struct {
	Endpoint      Endpoint
	User          string
	Password      string
	Database      string
	UpdateMethod  fivetran.UpdateMethod
	SchemaPrefix  string
	SyncFrequency fivetran.SyncFrequency
}

// NewDestinationRequest builds the creation request for spec inside groupID.
// Certificates and fingerprints are trusted and setup tests are run.
func NewDestinationRequest(groupID string, spec DestinationSpec) fivetran.NewDestinationRequest {
	connection := fivetran.ConnectionDirectly
	return fivetran.NewDestinationRequest{
		GroupID:           groupID,
		Service:           destinationService,
		TimeZoneOffset:    spec.TimeZoneOffset,
		Region:            spec.Region,
		TrustCertificates: fivetran.Bool(true),
		TrustFingerprints: fivetran.Bool(true),
		RunSetupTests:     fivetran.Bool(true),
		Config: fivetran.PostgresWarehouseConfig{
			Host:            spec.Endpoint.Host,
			Port:            spec.Endpoint.Port,
			User:            spec.User,
			Password:        spec.Password,
			Database:        spec.Database,
			AlwaysEncrypted: fivetran.Bool(false),
			ConnectionType:  &connection,
		},
	}
}

// NewConnectorRequest builds the creation request for spec inside groupID.
// The connector starts paused and pauses again after the trial.
func NewConnectorRequest(groupID string, spec SourceSpec) fivetran.NewConnectorRequest {
	connection := fivetran.ConnectionDirectly
	method := spec.UpdateMethod
	if method == "" {
		method = fivetran.UpdateMethodXMIN
	}
	freq := spec.SyncFrequency
	if freq == 0 {
		freq = fivetran.SyncEvery15Minutes
	}
	return fivetran.NewConnectorRequest{
		GroupID:           groupID,
		Service:           connectorService,
		TrustCertificates: fivetran.Bool(true),
		TrustFingerprints: fivetran.Bool(true),
		RunSetupTests:     fivetran.Bool(true),
		Paused:            fivetran.Bool(true),
		PauseAfterTrial:   fivetran.Bool(true),
		SyncFrequency:     &freq,
		Config: fivetran.PostgresSourceConfig{
			Host:           spec.Endpoint.Host,
			Port:           spec.Endpoint.Port,
			User:           spec.User,
			Password:       spec.Password,
			Database:       spec.Database,
			UpdateMethod:   &method,
			ConnectionType: &connection,
			SchemaPrefix:   spec.SchemaPrefix,
		},
	}
}

// DestinationSchema returns the destination schema a source schema lands in.
func DestinationSchema(prefix, sourceSchema string) string {
	return fmt.Sprintf("%s_%s", prefix, strings.ToLower(sourceSchema))
}
