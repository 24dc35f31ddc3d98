package fivetran

// Envelope is the response wrapper the platform puts around every payload.
type Envelope[T any] struct {
	// Code is the platform status code, e.g. "Success" or "NotFound_Connection".
	Code string `json:"code"`

	// Data is the payload. Absent on failures and on most deletes.
	Data *T `json:"data,omitempty"`

	// Message is a human-readable explanation, mostly set on failures.
	Message *string `json:"message,omitempty"`
}

// Page is the data payload of list endpoints.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// Group is a container that owns destinations and connectors.
type Group struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

// NewGroupRequest is the body of a group creation.
type NewGroupRequest struct {
	Name string `json:"name" validate:"required"`
}

// Destination is a warehouse that connectors load into. The creation
// config, including credentials, is never read back.
type Destination struct {
	ID                        string         `json:"id"`
	GroupID                   string         `json:"group_id"`
	Service                   string         `json:"service"`
	Region                    Region         `json:"region"`
	SetupStatus               SetupState     `json:"setup_status"`
	TimeZoneOffset            TimeZoneOffset `json:"time_zone_offset"`
	DaylightSavingTimeEnabled *bool          `json:"daylight_saving_time_enabled,omitempty"`
	PrivateLinkID             *string        `json:"private_link_id,omitempty"`
	ProxyAgentID              *string        `json:"proxy_agent_id,omitempty"`
	HybridDeploymentAgentID   *string        `json:"hybrid_deployment_agent_id,omitempty"`
}

// NewDestinationRequest creates a postgres warehouse destination.
type NewDestinationRequest struct {
	GroupID                   string                  `json:"group_id" validate:"required"`
	Service                   string                  `json:"service" validate:"required"`
	TimeZoneOffset            TimeZoneOffset          `json:"time_zone_offset" validate:"gte=-11,lte=12"`
	Region                    *Region                 `json:"region,omitempty"`
	TrustCertificates         *bool                   `json:"trust_certificates,omitempty"`
	TrustFingerprints         *bool                   `json:"trust_fingerprints,omitempty"`
	RunSetupTests             *bool                   `json:"run_setup_tests,omitempty"`
	DaylightSavingTimeEnabled *bool                   `json:"daylight_saving_time_enabled,omitempty"`
	HybridDeploymentAgentID   *string                 `json:"hybrid_deployment_agent_id,omitempty"`
	PrivateLinkID             *string                 `json:"private_link_id,omitempty"`
	ProxyAgentID              *string                 `json:"proxy_agent_id,omitempty"`
	Config                    PostgresWarehouseConfig `json:"config"`
}

// PostgresWarehouseConfig is the connection config of a postgres warehouse.
type PostgresWarehouseConfig struct {
	Host            string          `json:"host,omitempty" validate:"required"`
	Port            int             `json:"port,omitempty" validate:"required,gt=0,lte=65535"`
	User            string          `json:"user,omitempty" validate:"required"`
	Password        string          `json:"password,omitempty"`
	Database        string          `json:"database,omitempty" validate:"required"`
	AlwaysEncrypted *bool           `json:"always_encrypted,omitempty"`
	ConnectionType  *ConnectionType `json:"connection_type,omitempty"`
	TunnelHost      string          `json:"tunnel_host,omitempty"`
	TunnelPort      int             `json:"tunnel_port,omitempty"`
	TunnelUser      string          `json:"tunnel_user,omitempty"`
}

// ConnectorStatus is the status block of a connector.
type ConnectorStatus struct {
	UpdateState      string     `json:"update_state"`
	SetupState       SetupState `json:"setup_state"`
	SyncState        SyncState  `json:"sync_state"`
	IsHistoricalSync bool       `json:"is_historical_sync"`
	SchemaStatus     *string    `json:"schema_status,omitempty"`
	RescheduledFor   *string    `json:"rescheduled_for,omitempty"`
}

// Connector is a source pipeline that syncs into the group's destination.
// SucceededAt and FailedAt are RFC 3339 timestamps of the last sync outcome.
type Connector struct {
	ID                      string          `json:"id"`
	GroupID                 string          `json:"group_id"`
	Service                 string          `json:"service"`
	Schema                  string          `json:"schema"`
	Paused                  bool            `json:"paused"`
	PauseAfterTrial         bool            `json:"pause_after_trial"`
	SyncFrequency           SyncFrequency   `json:"sync_frequency"`
	ScheduleType            string          `json:"schedule_type"`
	DailySyncTime           *string         `json:"daily_sync_time,omitempty"`
	ServiceVersion          int64           `json:"service_version"`
	CreatedAt               string          `json:"created_at"`
	ConnectedBy             *string         `json:"connected_by,omitempty"`
	SucceededAt             *string         `json:"succeeded_at,omitempty"`
	FailedAt                *string         `json:"failed_at,omitempty"`
	PrivateLinkID           *string         `json:"private_link_id,omitempty"`
	ProxyAgentID            *string         `json:"proxy_agent_id,omitempty"`
	HybridDeploymentAgentID *string         `json:"hybrid_deployment_agent_id,omitempty"`
	Status                  ConnectorStatus `json:"status"`
}

// NewConnectorRequest creates a postgres source connector.
type NewConnectorRequest struct {
	GroupID           string               `json:"group_id" validate:"required"`
	Service           string               `json:"service" validate:"required"`
	TrustCertificates *bool                `json:"trust_certificates,omitempty"`
	TrustFingerprints *bool                `json:"trust_fingerprints,omitempty"`
	RunSetupTests     *bool                `json:"run_setup_tests,omitempty"`
	Paused            *bool                `json:"paused,omitempty"`
	PauseAfterTrial   *bool                `json:"pause_after_trial,omitempty"`
	SyncFrequency     *SyncFrequency       `json:"sync_frequency,omitempty"`
	DailySyncTime     *string              `json:"daily_sync_time,omitempty"`
	Config            PostgresSourceConfig `json:"config"`
}

// PostgresSourceConfig is the connection config of a postgres source.
// SchemaPrefix names the destination schemas as "<prefix>_<source schema>".
type PostgresSourceConfig struct {
	Host            string          `json:"host,omitempty" validate:"required"`
	Port            int             `json:"port,omitempty" validate:"required,gt=0,lte=65535"`
	User            string          `json:"user,omitempty" validate:"required"`
	Password        string          `json:"password,omitempty"`
	Database        string          `json:"database,omitempty" validate:"required"`
	UpdateMethod    *UpdateMethod   `json:"update_method,omitempty"`
	ConnectionType  *ConnectionType `json:"connection_type,omitempty"`
	SchemaPrefix    string          `json:"schema_prefix" validate:"required"`
	PublicationName string          `json:"publication_name,omitempty"`
	ReplicationSlot string          `json:"replication_slot,omitempty"`
	AlwaysEncrypted *bool           `json:"always_encrypted,omitempty"`
	TunnelHost      string          `json:"tunnel_host,omitempty"`
	TunnelPort      int             `json:"tunnel_port,omitempty"`
	TunnelUser      string          `json:"tunnel_user,omitempty"`
}

// UpdateConnectorRequest patches a connector. Nil fields are left unchanged.
type UpdateConnectorRequest struct {
	Paused           *bool          `json:"paused,omitempty"`
	PauseAfterTrial  *bool          `json:"pause_after_trial,omitempty"`
	IsHistoricalSync *bool          `json:"is_historical_sync,omitempty"`
	SyncFrequency    *SyncFrequency `json:"sync_frequency,omitempty"`
	DailySyncTime    *string        `json:"daily_sync_time,omitempty"`
}

// SchemaConfig is the discovered schema tree of a connector.
type SchemaConfig struct {
	Schemas              map[string]SchemaConfigSchema `json:"schemas"`
	SchemaChangeHandling *SchemaChangeHandling         `json:"schema_change_handling,omitempty"`
	EnableNewByDefault   *bool                         `json:"enable_new_by_default,omitempty"`
}

// SchemaConfigSchema is one source schema as discovered.
type SchemaConfigSchema struct {
	NameInDestination string                       `json:"name_in_destination"`
	Enabled           bool                         `json:"enabled"`
	Tables            map[string]SchemaConfigTable `json:"tables"`
}

// SchemaConfigTable is one source table as discovered.
type SchemaConfigTable struct {
	NameInDestination     string                        `json:"name_in_destination"`
	Enabled               bool                          `json:"enabled"`
	SupportsColumnsConfig *bool                         `json:"supports_columns_config,omitempty"`
	Columns               map[string]SchemaConfigColumn `json:"columns"`
}

// SchemaConfigColumn is one source column as discovered.
type SchemaConfigColumn struct {
	NameInDestination string `json:"name_in_destination"`
	Enabled           bool   `json:"enabled"`
	Hashed            bool   `json:"hashed"`
	IsPrimaryKey      *bool  `json:"is_primary_key,omitempty"`
}

// SchemaUpdateRequest is the body of a schema update.
type SchemaUpdateRequest struct {
	SchemaChangeHandling SchemaChangeHandling    `json:"schema_change_handling" validate:"required"`
	Schemas              map[string]SchemaUpdate `json:"schemas"`
}

// SchemaUpdate is one schema of the write tree.
type SchemaUpdate struct {
	Enabled bool                   `json:"enabled"`
	Tables  map[string]TableUpdate `json:"tables"`
}

// TableUpdate is one table of the write tree.
type TableUpdate struct {
	Enabled bool                    `json:"enabled"`
	Columns map[string]ColumnUpdate `json:"columns"`
}

// ColumnUpdate is one column of the write tree. Nil fields are omitted.
type ColumnUpdate struct {
	Enabled      bool  `json:"enabled"`
	Hashed       *bool `json:"hashed,omitempty"`
	IsPrimaryKey *bool `json:"is_primary_key,omitempty"`
}

// Bool returns a pointer to b, for optional request fields.
func Bool(b bool) *bool {
	return &b
}

// String returns a pointer to s, for optional request fields.
func String(s string) *string {
	return &s
}
