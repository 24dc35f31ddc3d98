package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/syncprobe/pkg/telemetry"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = "1.0.0"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	logger := tel.Logger.Component("example")
	logger.Info().Msg("Application started")

	// Output varies, no output specified
}

// Example_runEvents demonstrates subscribing to the run timeline.
func Example_runEvents() {
	events, err := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true, BufferSize: 16})
	if err != nil {
		panic(err)
	}

	events.Subscribe(func(e telemetry.Event) {
		fmt.Println(e.Type, e.ResourceKind, e.ResourceID)
	}, telemetry.FilterByType(telemetry.EventTypeResourceCreated))

	_ = events.PublishRunStarted("run-1", "test_2024_01_01T00_00_00")
	_ = events.PublishResourceCreated("run-1", "group", "grp_1")
	_ = events.PublishResourceCreated("run-1", "connector", "conn_1")
	_ = events.PublishRunCompleted("run-1", "succeeded", time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = events.Shutdown(ctx)

	// Output:
	// resource.created group grp_1
	// resource.created connector conn_1
}
