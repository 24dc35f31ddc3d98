package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/openfroyo/syncprobe/pkg/engine"
	"github.com/openfroyo/syncprobe/pkg/fivetran"
	"github.com/openfroyo/syncprobe/pkg/schemafilter"
)

// Client returns the API client configuration.
func (c *Config) Client(userAgent string) fivetran.Config {
	return fivetran.Config{
		BaseURL:       c.Fivetran.BaseURL,
		Authorization: c.Fivetran.Authorization,
		Timeout:       c.Fivetran.Timeout,
		UserAgent:     userAgent,
	}
}

// Mode returns the deletion mode used by teardown and sweeps.
func (c *Config) Mode() engine.Mode {
	if c.Run.BestEffort {
		return engine.ModeBestEffort
	}
	return engine.ModeFailFast
}

// EngineOptions returns the orchestrator options.
func (c *Config) EngineOptions() engine.Options {
	return engine.Options{
		SetupWait: engine.WaitOptions{
			Interval:     c.Run.PollInterval,
			MaxAttempts:  c.Run.SetupMaxPolls,
			Timeout:      waitTimeout(c.Run.SetupTimeout),
			FailOnBroken: c.Run.FailOnBroken,
		},
		SyncWait: engine.WaitOptions{
			Interval:    c.Run.PollInterval,
			MaxAttempts: c.Run.SyncMaxPolls,
			Timeout:     waitTimeout(c.Run.SyncTimeout),
		},
		SchemaChangeHandling: fivetran.SchemaChangeHandling(c.Run.SchemaChangeHandling),
		TeardownMode:         c.Mode(),
	}
}

// waitTimeout maps a configured timeout to the engine's: negative means
// unbounded, which the engine spells as zero.
func waitTimeout(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

// SourceEndpoint returns the address the platform dials for the source
// when the tunnel is disabled.
func (c *Config) SourceEndpoint() engine.Endpoint {
	return engine.Endpoint{Host: c.Source.Host, Port: c.Source.Port}
}

// DestinationEndpoint returns the address the platform dials for the
// destination when the tunnel is disabled.
func (c *Config) DestinationEndpoint() engine.Endpoint {
	return engine.Endpoint{Host: c.Destination.Host, Port: c.Destination.Port}
}

// SourceSpec describes the source reachable at endpoint.
func (c *Config) SourceSpec(endpoint engine.Endpoint) engine.SourceSpec {
	return engine.SourceSpec{
		Endpoint:      endpoint,
		User:          c.Source.User,
		Password:      c.Source.Password,
		Database:      c.Source.Database,
		UpdateMethod:  fivetran.UpdateMethod(c.Source.UpdateMethod),
		SchemaPrefix:  c.Source.SchemaPrefix,
		SyncFrequency: fivetran.SyncFrequency(c.Run.SyncFrequency),
	}
}

// DestinationSpec describes the destination reachable at endpoint.
func (c *Config) DestinationSpec(endpoint engine.Endpoint) (engine.DestinationSpec, error) {
	offset, err := fivetran.ParseTimeZoneOffset(c.Destination.TimeZoneOffset)
	if err != nil {
		return engine.DestinationSpec{}, fmt.Errorf("invalid destination time zone offset: %w", err)
	}

	spec := engine.DestinationSpec{
		Endpoint:       endpoint,
		User:           c.Destination.User,
		Password:       c.Destination.Password,
		Database:       c.Destination.Database,
		TimeZoneOffset: offset,
	}
	if c.Destination.Region != "" {
		region := fivetran.Region(c.Destination.Region)
		spec.Region = &region
	}
	return spec, nil
}

// StaticExclusions returns the columns excluded by configuration.
func (c *Config) StaticExclusions() schemafilter.Exclusions {
	return schemafilter.NewExclusions(c.Policy.Exclude...)
}

// VerifyAddress returns where the probe reaches the destination database.
func (c *Config) VerifyAddress() string {
	switch {
	case c.Verify.Address != "":
		return c.Verify.Address
	case c.Destination.LocalAddress != "":
		return c.Destination.LocalAddress
	default:
		return net.JoinHostPort(c.Destination.Host, strconv.Itoa(c.Destination.Port))
	}
}
