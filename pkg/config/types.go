package config

import (
	"time"

	"github.com/openfroyo/syncprobe/pkg/schemafilter"
	"github.com/openfroyo/syncprobe/pkg/stores"
	"github.com/openfroyo/syncprobe/pkg/telemetry"
	"github.com/openfroyo/syncprobe/pkg/transports/ssh"
)

// Config holds all configuration for syncprobe.
// Values come from a YAML file with environment variable overrides.
// Secrets (API credentials, database passwords) come only from the
// environment.
type Config struct {
	Fivetran    FivetranConfig    `yaml:"fivetran" json:"fivetran"`
	Run         RunConfig         `yaml:"run" json:"run"`
	Source      SourceConfig      `yaml:"source" json:"source"`
	Destination DestinationConfig `yaml:"destination" json:"destination"`
	Policy      PolicyConfig      `yaml:"policy" json:"policy"`
	Store       stores.Config     `yaml:"store" json:"store"`
	Tunnel      TunnelConfig      `yaml:"tunnel" json:"tunnel"`
	Verify      VerifyConfig      `yaml:"verify" json:"verify"`
	Telemetry   telemetry.Config  `yaml:"telemetry" json:"telemetry"`

	// Path is the file the configuration was read from, if any.
	Path string `yaml:"-" json:"-"`
}

// FivetranConfig configures the platform API client.
type FivetranConfig struct {
	BaseURL string        `yaml:"base_url" json:"base_url" env:"FIVETRAN_BASE_URL" env-default:"https://api.fivetran.com" validate:"required,url"`
	Timeout time.Duration `yaml:"timeout" json:"timeout" env:"FIVETRAN_TIMEOUT" env-default:"60s" validate:"gte=0"`

	// Authorization is the full Authorization header value.
	Authorization string `yaml:"-" json:"-" env:"FIVETRAN_AUTHORIZATION"`

	// APIKey and APISecret build a Basic authorization when Authorization
	// is not set.
	APIKey    string `yaml:"-" json:"-" env:"FIVETRAN_API_KEY"`
	APISecret string `yaml:"-" json:"-" env:"FIVETRAN_API_SECRET"`
}

// RunConfig controls a validation run.
type RunConfig struct {
	// PollInterval is the pause between status polls.
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval" env:"SYNCPROBE_POLL_INTERVAL" env-default:"10s" validate:"gte=1s"`

	// SetupTimeout and SyncTimeout bound the waits. Zero is replaced by the
	// default when loading, so a negative value (e.g. -1s) waits forever.
	SetupTimeout time.Duration `yaml:"setup_timeout" json:"setup_timeout" env:"SYNCPROBE_SETUP_TIMEOUT" env-default:"20m"`
	SyncTimeout  time.Duration `yaml:"sync_timeout" json:"sync_timeout" env:"SYNCPROBE_SYNC_TIMEOUT" env-default:"2h"`

	// SetupMaxPolls and SyncMaxPolls cap the number of polls. Zero means no cap.
	SetupMaxPolls int `yaml:"setup_max_polls" json:"setup_max_polls" validate:"gte=0"`
	SyncMaxPolls  int `yaml:"sync_max_polls" json:"sync_max_polls" validate:"gte=0"`

	// FailOnBroken stops the setup wait when the connector reports broken.
	FailOnBroken bool `yaml:"fail_on_broken" json:"fail_on_broken"`

	// MaxAge is the retention threshold of the sweeper.
	MaxAge time.Duration `yaml:"max_age" json:"max_age" env:"SYNCPROBE_MAX_AGE" env-default:"15m" validate:"gt=0"`

	// SkipSweep disables the sweep of old resources before provisioning.
	SkipSweep bool `yaml:"skip_sweep" json:"skip_sweep" env:"SYNCPROBE_SKIP_SWEEP"`

	// SweepOrphanGroups also deletes old run groups that hold no destination.
	SweepOrphanGroups bool `yaml:"sweep_orphan_groups" json:"sweep_orphan_groups"`

	// BestEffort keeps deleting after a failed deletion during teardown and
	// sweeps, and reports every failure.
	BestEffort bool `yaml:"best_effort" json:"best_effort" env:"SYNCPROBE_BEST_EFFORT"`

	// KeepResources skips teardown after a run.
	KeepResources bool `yaml:"keep_resources" json:"keep_resources" env:"SYNCPROBE_KEEP_RESOURCES"`

	SchemaChangeHandling string `yaml:"schema_change_handling" json:"schema_change_handling" env-default:"BLOCK_ALL" validate:"oneof=ALLOW_ALL ALLOW_COLUMNS BLOCK_ALL"`
	SyncFrequency        int    `yaml:"sync_frequency" json:"sync_frequency" env-default:"15"`
}

// SourceConfig describes the postgres database replicated from.
type SourceConfig struct {
	// LocalAddress is where the probe reaches the database (host:port).
	// It is published through the tunnel when the tunnel is enabled.
	LocalAddress string `yaml:"local_address" json:"local_address" env:"SYNCPROBE_SOURCE_LOCAL_ADDRESS" validate:"omitempty,hostname_port"`

	// Host and Port are the address the platform dials when the tunnel is
	// disabled.
	Host string `yaml:"host" json:"host" env:"SYNCPROBE_SOURCE_HOST"`
	Port int    `yaml:"port" json:"port" env:"SYNCPROBE_SOURCE_PORT" env-default:"5432" validate:"gte=0,lte=65535"`

	User     string `yaml:"user" json:"user" env:"SYNCPROBE_SOURCE_USER" env-default:"postgres"`
	Password string `yaml:"-" json:"-" env:"SYNCPROBE_SOURCE_PASSWORD"`
	Database string `yaml:"database" json:"database" env:"SYNCPROBE_SOURCE_DATABASE" env-default:"postgres"`

	// SchemaPrefix names the destination schemas: "<prefix>_<schema>".
	SchemaPrefix string `yaml:"schema_prefix" json:"schema_prefix" env-default:"gel" validate:"required"`
	UpdateMethod string `yaml:"update_method" json:"update_method" env-default:"XMIN" validate:"oneof=TELEPORT WAL WAL_PGOUTPUT XMIN"`
}

// DestinationConfig describes the postgres warehouse loaded into.
type DestinationConfig struct {
	LocalAddress string `yaml:"local_address" json:"local_address" env:"SYNCPROBE_DESTINATION_LOCAL_ADDRESS" validate:"omitempty,hostname_port"`

	Host string `yaml:"host" json:"host" env:"SYNCPROBE_DESTINATION_HOST"`
	Port int    `yaml:"port" json:"port" env:"SYNCPROBE_DESTINATION_PORT" env-default:"5432" validate:"gte=0,lte=65535"`

	User     string `yaml:"user" json:"user" env:"SYNCPROBE_DESTINATION_USER" env-default:"postgres"`
	Password string `yaml:"-" json:"-" env:"SYNCPROBE_DESTINATION_PASSWORD"`
	Database string `yaml:"database" json:"database" env:"SYNCPROBE_DESTINATION_DATABASE" env-default:"postgres"`

	// TimeZoneOffset is a wire token: "-11".."-1", "0", "+1".."+12".
	TimeZoneOffset string `yaml:"time_zone_offset" json:"time_zone_offset" env-default:"0"`

	// Region is the data processing location. Empty lets the platform choose.
	Region string `yaml:"region" json:"region"`
}

// PolicyConfig configures the exclusion policies.
type PolicyConfig struct {
	// Paths lists .rego/.json files or directories to load.
	Paths []string `yaml:"paths" json:"paths" env:"SYNCPROBE_POLICY_PATHS" env-separator:","`

	// Exclude lists columns excluded regardless of policy.
	Exclude []schemafilter.Exclusion `yaml:"exclude" json:"exclude" validate:"dive"`

	// Disabled names policies, built-in or loaded, that are not evaluated.
	Disabled []string `yaml:"disabled" json:"disabled"`
}

// TunnelConfig configures SSH exposure of the local databases.
type TunnelConfig struct {
	Enabled bool       `yaml:"enabled" json:"enabled" env:"SYNCPROBE_TUNNEL_ENABLED"`
	SSH     ssh.Config `yaml:"ssh" json:"ssh"`
}

// VerifyConfig configures the post-sync destination check.
type VerifyConfig struct {
	// Skip disables the check.
	Skip bool `yaml:"skip" json:"skip" env:"SYNCPROBE_VERIFY_SKIP"`

	// Address overrides where the probe reaches the destination. Empty
	// uses the destination local address, then host and port.
	Address string `yaml:"address" json:"address" env:"SYNCPROBE_VERIFY_ADDRESS" validate:"omitempty,hostname_port"`

	SSLMode        string        `yaml:"ssl_mode" json:"ssl_mode" env:"SYNCPROBE_VERIFY_SSLMODE" env-default:"prefer" validate:"oneof=disable allow prefer require verify-ca verify-full"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout" env-default:"10s" validate:"gte=0"`
}
