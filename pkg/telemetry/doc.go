// Package telemetry provides observability for syncprobe runs.
//
// It combines structured logging (zerolog), distributed tracing
// (OpenTelemetry), Prometheus metrics and an in-process run event stream.
//
// # Usage
//
// Initialize telemetry once at startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	if err := tel.StartMetricsServer(); err != nil {
//	    return err
//	}
//
// # Logging
//
// Library packages take a zerolog.Logger; Logger.Zerolog hands out the
// configured one and Logger.Component tags it with a component name.
//
// # Tracing
//
// Every validation run gets a root span ("syncprobe.run"), each phase a child
// span ("syncprobe.phase.setup_wait", ...) and each platform API call
// a client span ("fivetran.GetConnector"). Exporters: otlp (gRPC), stdout, none.
//
// # Metrics
//
//   - syncprobe_api_calls_total{operation,outcome}
//   - syncprobe_api_call_duration_seconds{operation}
//   - syncprobe_runs_started_total, syncprobe_runs_completed_total{status,outcome}
//   - syncprobe_run_duration_seconds{status}, syncprobe_active_runs
//   - syncprobe_phase_duration_seconds{phase,status}
//   - syncprobe_polls_total{phase,state}
//   - syncprobe_swept_resources_total{kind}
//
// # Events
//
// EventPublisher delivers run timeline events to subscribers in publish
// order. The CLI subscribes the run ledger so every event is persisted.
package telemetry
