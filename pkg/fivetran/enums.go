package fivetran

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SyncFrequency is the connector sync interval in minutes. It is a closed set
// and travels as a JSON number.
type SyncFrequency int

const (
	SyncEvery1Minute    SyncFrequency = 1
	SyncEvery5Minutes   SyncFrequency = 5
	SyncEvery15Minutes  SyncFrequency = 15
	SyncEvery30Minutes  SyncFrequency = 30
	SyncEvery60Minutes  SyncFrequency = 60
	SyncEvery120Minutes SyncFrequency = 120
	SyncEvery180Minutes SyncFrequency = 180
	SyncEvery360Minutes SyncFrequency = 360
	SyncEvery480Minutes SyncFrequency = 480
	SyncEvery720Minutes SyncFrequency = 720
	SyncEveryDay        SyncFrequency = 1440
)

// SyncFrequencies lists every accepted sync frequency in ascending order.
var SyncFrequencies = []SyncFrequency{
	SyncEvery1Minute, SyncEvery5Minutes, SyncEvery15Minutes, SyncEvery30Minutes,
	SyncEvery60Minutes, SyncEvery120Minutes, SyncEvery180Minutes, SyncEvery360Minutes,
	SyncEvery480Minutes, SyncEvery720Minutes, SyncEveryDay,
}

// Validate checks that f is one of the accepted frequencies.
func (f SyncFrequency) Validate() error {
	for _, v := range SyncFrequencies {
		if f == v {
			return nil
		}
	}
	return fmt.Errorf("invalid sync frequency: %d", int(f))
}

// MarshalJSON implements json.Marshaler.
func (f SyncFrequency) MarshalJSON() ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(int(f))
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *SyncFrequency) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("sync frequency must be a number: %w", err)
	}
	v := SyncFrequency(n)
	if err := v.Validate(); err != nil {
		return err
	}
	*f = v
	return nil
}

// SchemaChangeHandling controls how the platform treats schema drift at the source.
type SchemaChangeHandling string

const (
	// SchemaChangeAllowAll syncs new schemas, tables and columns.
	SchemaChangeAllowAll SchemaChangeHandling = "ALLOW_ALL"

	// SchemaChangeAllowColumns syncs new columns of already enabled tables only.
	SchemaChangeAllowColumns SchemaChangeHandling = "ALLOW_COLUMNS"

	// SchemaChangeBlockAll syncs nothing new without an explicit schema update.
	SchemaChangeBlockAll SchemaChangeHandling = "BLOCK_ALL"
)

// Validate checks if the schema change handling is valid.
func (h SchemaChangeHandling) Validate() error {
	switch h {
	case SchemaChangeAllowAll, SchemaChangeAllowColumns, SchemaChangeBlockAll:
		return nil
	default:
		return fmt.Errorf("invalid schema change handling: %s", h)
	}
}

// MarshalJSON implements json.Marshaler.
func (h SchemaChangeHandling) MarshalJSON() ([]byte, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(string(h))
}

// UnmarshalJSON implements json.Unmarshaler.
func (h *SchemaChangeHandling) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v := SchemaChangeHandling(s)
	if err := v.Validate(); err != nil {
		return err
	}
	*h = v
	return nil
}

// TimeZoneOffset is a whole-hour UTC offset in the range -11..+12.
// On the wire it is a string token: "-11".."-1", "0", "+1".."+12".
type TimeZoneOffset int

const (
	MinTimeZoneOffset TimeZoneOffset = -11
	MaxTimeZoneOffset TimeZoneOffset = 12
)

// Validate checks that the offset is within range.
func (o TimeZoneOffset) Validate() error {
	if o < MinTimeZoneOffset || o > MaxTimeZoneOffset {
		return fmt.Errorf("invalid time zone offset: %d", int(o))
	}
	return nil
}

// String returns the wire token.
func (o TimeZoneOffset) String() string {
	if o > 0 {
		return "+" + strconv.Itoa(int(o))
	}
	return strconv.Itoa(int(o))
}

// ParseTimeZoneOffset parses a wire token. Positive offsets require the
// leading plus sign and zero must not carry a sign.
func ParseTimeZoneOffset(s string) (TimeZoneOffset, error) {
	if s == "" || s == "+0" || s == "-0" {
		return 0, fmt.Errorf("invalid time zone offset: %q", s)
	}
	if s != "0" && !strings.HasPrefix(s, "+") && !strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("invalid time zone offset: %q", s)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid time zone offset: %q", s)
	}
	o := TimeZoneOffset(n)
	if err := o.Validate(); err != nil {
		return 0, err
	}
	return o, nil
}

// MarshalJSON implements json.Marshaler.
func (o TimeZoneOffset) MarshalJSON() ([]byte, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(o.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *TimeZoneOffset) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("time zone offset must be a string: %w", err)
	}
	v, err := ParseTimeZoneOffset(s)
	if err != nil {
		return err
	}
	*o = v
	return nil
}

// UpdateMethod is the change-capture method of a postgres source.
type UpdateMethod string

const (
	UpdateMethodTeleport    UpdateMethod = "TELEPORT"
	UpdateMethodWAL         UpdateMethod = "WAL"
	UpdateMethodWALPgOutput UpdateMethod = "WAL_PGOUTPUT"
	UpdateMethodXMIN        UpdateMethod = "XMIN"
)

// Validate checks if the update method is valid.
func (m UpdateMethod) Validate() error {
	switch m {
	case UpdateMethodTeleport, UpdateMethodWAL, UpdateMethodWALPgOutput, UpdateMethodXMIN:
		return nil
	default:
		return fmt.Errorf("invalid update method: %s", m)
	}
}

// MarshalJSON implements json.Marshaler.
func (m UpdateMethod) MarshalJSON() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(string(m))
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *UpdateMethod) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v := UpdateMethod(s)
	if err := v.Validate(); err != nil {
		return err
	}
	*m = v
	return nil
}

// ConnectionType is how the platform reaches a database.
type ConnectionType string

const (
	ConnectionDirectly    ConnectionType = "Directly"
	ConnectionPrivateLink ConnectionType = "PrivateLink"
	ConnectionProxyAgent  ConnectionType = "ProxyAgent"
	ConnectionSSHTunnel   ConnectionType = "SshTunnel"
)

// Validate checks if the connection type is valid.
func (c ConnectionType) Validate() error {
	switch c {
	case ConnectionDirectly, ConnectionPrivateLink, ConnectionProxyAgent, ConnectionSSHTunnel:
		return nil
	default:
		return fmt.Errorf("invalid connection type: %s", c)
	}
}

// MarshalJSON implements json.Marshaler.
func (c ConnectionType) MarshalJSON() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(string(c))
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *ConnectionType) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v := ConnectionType(s)
	if err := v.Validate(); err != nil {
		return err
	}
	*c = v
	return nil
}

// SetupState is the setup state of a connector or destination.
type SetupState string

const (
	// SetupIncomplete means the setup tests never succeeded.
	SetupIncomplete SetupState = "incomplete"

	// SetupConnected means the resource is properly set up.
	SetupConnected SetupState = "connected"

	// SetupBroken means the setup config is broken.
	SetupBroken SetupState = "broken"
)

// IsConnected returns true if the setup completed.
func (s SetupState) IsConnected() bool {
	return s == SetupConnected
}

// SyncState is the sync state of a connector.
type SyncState string

const (
	SyncScheduled   SyncState = "scheduled"
	SyncSyncing     SyncState = "syncing"
	SyncPaused      SyncState = "paused"
	SyncRescheduled SyncState = "rescheduled"
)

// Region is a data processing location. Unknown regions decode as-is so a
// region added by the platform does not break listing; Validate guards requests.
type Region string

// Regions lists every region the client accepts in requests.
var Regions = []Region{
	"AWS_AP_NORTHEAST_1", "AWS_AP_SOUTHEAST_1", "AWS_AP_SOUTHEAST_2", "AWS_AP_SOUTH_1",
	"AWS_CA_CENTRAL_1", "AWS_EU_CENTRAL_1", "AWS_EU_WEST_1", "AWS_EU_WEST_2",
	"AWS_US_EAST_1", "AWS_US_EAST_2", "AWS_US_GOV_WEST_1", "AWS_US_WEST_2",
	"AZURE_AUSTRALIAEAST", "AZURE_CANADACENTRAL", "AZURE_CENTRALINDIA", "AZURE_CENTRALUS",
	"AZURE_EASTUS", "AZURE_EASTUS2", "AZURE_JAPANEAST", "AZURE_SOUTHEASTASIA",
	"AZURE_UAENORTH", "AZURE_UKSOUTH", "AZURE_WESTEUROPE",
	"GCP_ASIA_NORTHEAST1", "GCP_ASIA_SOUTH1", "GCP_ASIA_SOUTHEAST1", "GCP_ASIA_SOUTHEAST2",
	"GCP_AUSTRALIA_SOUTHEAST1", "GCP_EUROPE_WEST2", "GCP_EUROPE_WEST3",
	"GCP_NORTHAMERICA_NORTHEAST1", "GCP_US_CENTRAL1", "GCP_US_EAST4", "GCP_US_WEST1",
}

// Validate checks that the region is known.
func (r Region) Validate() error {
	for _, v := range Regions {
		if r == v {
			return nil
		}
	}
	return fmt.Errorf("invalid region: %s", r)
}

// isNull reports a JSON null, which leaves an enum unchanged.
func isNull(data []byte) bool {
	return string(data) == "null"
}
