package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"

	"github.com/openfroyo/syncprobe/pkg/fivetran"
)

// ErrMissingCredentials is returned by RequireAPI when no API credentials
// are configured.
var ErrMissingCredentials = errors.New("fivetran credentials are not configured: set FIVETRAN_AUTHORIZATION or FIVETRAN_API_KEY and FIVETRAN_API_SECRET")

// ValidationError represents a single configuration problem.
type ValidationError struct {
	File     string `json:"file,omitempty" yaml:"file,omitempty"`
	Line     int    `json:"line,omitempty" yaml:"line,omitempty"`
	Column   int    `json:"column,omitempty" yaml:"column,omitempty"`
	Path     string `json:"path,omitempty" yaml:"path,omitempty"`
	Message  string `json:"message" yaml:"message"`
	Severity string `json:"severity" yaml:"severity"`
}

func (e ValidationError) String() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// ValidationErrors is the error returned when a configuration is invalid.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return "invalid configuration: " + e[0].String()
	}
	parts := make([]string, len(e))
	for i, ve := range e {
		parts[i] = ve.String()
	}
	return fmt.Sprintf("invalid configuration (%d problems): %s", len(e), strings.Join(parts, "; "))
}

// Load reads the configuration from the YAML file at path, applies
// environment overrides and defaults, then validates it. An empty path
// reads the environment only.
func Load(path string) (*Config, error) {
	cfg := &Config{Path: path}

	if path != "" {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	cfg.resolveAuthorization()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// resolveAuthorization builds a Basic authorization from the API key and
// secret when no explicit header value is set.
func (c *Config) resolveAuthorization() {
	f := &c.Fivetran
	if f.Authorization != "" || f.APIKey == "" || f.APISecret == "" {
		return
	}
	token := base64.StdEncoding.EncodeToString([]byte(f.APIKey + ":" + f.APISecret))
	f.Authorization = "Basic " + token
}

// Validate checks struct constraints, cross-field rules and the CUE schema.
// It returns ValidationErrors listing every problem found.
func (c *Config) Validate() error {
	var problems ValidationErrors

	problems = append(problems, structErrors(c)...)
	problems = append(problems, c.semanticErrors()...)
	problems = append(problems, defaultRegistry.ValidateConfig(c)...)

	for i := range problems {
		if problems[i].File == "" {
			problems[i].File = c.Path
		}
	}

	if len(problems) > 0 {
		return problems
	}
	return nil
}

// RequireAPI checks that API credentials are configured.
func (c *Config) RequireAPI() error {
	if c.Fivetran.Authorization == "" {
		return ErrMissingCredentials
	}
	return nil
}

// RequireDatabases checks that both databases can be reached by the
// platform: through the tunnel when it is enabled, directly otherwise.
func (c *Config) RequireDatabases() error {
	var problems ValidationErrors

	check := func(section, local, host string, port int) {
		if c.Tunnel.Enabled {
			if local == "" {
				problems = append(problems, ValidationError{
					Path:     section + ".local_address",
					Message:  "required when the tunnel is enabled",
					Severity: "error",
				})
			}
			return
		}
		if host == "" || port == 0 {
			problems = append(problems, ValidationError{
				Path:     section + ".host",
				Message:  "host and port are required when the tunnel is disabled",
				Severity: "error",
			})
		}
	}

	check("source", c.Source.LocalAddress, c.Source.Host, c.Source.Port)
	check("destination", c.Destination.LocalAddress, c.Destination.Host, c.Destination.Port)

	if c.Tunnel.Enabled {
		if err := c.Tunnel.SSH.Validate(); err != nil {
			problems = append(problems, ValidationError{
				Path:     "tunnel.ssh",
				Message:  err.Error(),
				Severity: "error",
			})
		}
	}

	if len(problems) > 0 {
		return problems
	}
	return nil
}

var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New()
	// Report paths with the names used in the YAML file.
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return field.Name
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	return v
}

func structErrors(c *Config) []ValidationError {
	err := structValidator.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []ValidationError{{Message: err.Error(), Severity: "error"}}
	}

	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Path:     strings.TrimPrefix(fe.Namespace(), "Config."),
			Message:  describeFieldError(fe),
			Severity: "error",
		})
	}
	return out
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fmt.Sprint(fe.Value()))
	case "url":
		return fmt.Sprintf("must be a URL, got %q", fmt.Sprint(fe.Value()))
	case "hostname_port":
		return fmt.Sprintf("must be host:port, got %q", fmt.Sprint(fe.Value()))
	case "gte", "gt", "lte":
		return fmt.Sprintf("must be %s %s, got %v", fe.Tag(), fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

// semanticErrors checks values whose rules live with the wire types.
func (c *Config) semanticErrors() []ValidationError {
	var out []ValidationError
	add := func(path string, err error) {
		if err != nil {
			out = append(out, ValidationError{Path: path, Message: err.Error(), Severity: "error"})
		}
	}

	if _, err := fivetran.ParseTimeZoneOffset(c.Destination.TimeZoneOffset); err != nil {
		add("destination.time_zone_offset", err)
	}
	if c.Destination.Region != "" {
		add("destination.region", fivetran.Region(c.Destination.Region).Validate())
	}
	add("run.sync_frequency", fivetran.SyncFrequency(c.Run.SyncFrequency).Validate())
	add("telemetry", c.Telemetry.Validate())

	return out
}
