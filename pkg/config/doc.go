// Package config loads and validates the syncprobe configuration.
//
// # Overview
//
// Configuration is read from a YAML file with environment variable
// overrides, in that order. Defaults come from the env-default tags on
// the structs in types.go. Secrets are never read from the file:
//
//   - FIVETRAN_AUTHORIZATION, or FIVETRAN_API_KEY and FIVETRAN_API_SECRET
//   - SYNCPROBE_SOURCE_PASSWORD and SYNCPROBE_DESTINATION_PASSWORD
//   - SYNCPROBE_TUNNEL_PASSWORD and SYNCPROBE_TUNNEL_KEY_PASSPHRASE
//
// # Usage Example
//
//	cfg, err := config.Load("syncprobe.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.RequireAPI(); err != nil {
//	    log.Fatal(err)
//	}
//
//	client, err := fivetran.NewClient(cfg.Client("syncprobe/1.0"))
//
// # Configuration File
//
//	fivetran:
//	  base_url: https://api.fivetran.com
//	run:
//	  poll_interval: 10s
//	  setup_timeout: 20m
//	  sync_timeout: 2h
//	  max_age: 15m
//	source:
//	  local_address: localhost:5432
//	  database: app
//	  schema_prefix: gel
//	destination:
//	  local_address: localhost:5433
//	  time_zone_offset: "+1"
//	policy:
//	  paths: [policies/]
//	  exclude:
//	    - {schema: public, table: Person, column: username}
//	tunnel:
//	  enabled: true
//	  ssh:
//	    host: tunnel.example.com
//	    user: probe
//
// # Validation
//
// Load checks the result three ways: struct tags through the validator,
// rules owned by the wire types (time zone offsets, regions, sync
// frequencies), and the built-in CUE #Config schema. Every problem is
// reported, each as a ValidationError:
//
//	ValidationError{
//	    File: "syncprobe.yaml",
//	    Path: "run.sync_frequency",
//	    Message: "invalid sync frequency: 7",
//	    Severity: "error",
//	}
//
// Credentials and database addresses are not required by Load so that
// commands which need neither (such as schema preview) can run without
// them. Commands call RequireAPI and RequireDatabases instead.
//
// Boolean settings default to false. A true env-default cannot be turned
// off from YAML, so options that are on by default are expressed as
// skip flags.
package config
