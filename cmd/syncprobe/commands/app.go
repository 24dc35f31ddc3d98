package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/user"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/syncprobe/pkg/config"
	"github.com/openfroyo/syncprobe/pkg/engine"
	"github.com/openfroyo/syncprobe/pkg/fivetran"
	"github.com/openfroyo/syncprobe/pkg/stores"
	"github.com/openfroyo/syncprobe/pkg/telemetry"
)

// shutdownTimeout bounds telemetry flushing and ledger writes at exit.
const shutdownTimeout = 10 * time.Second

// app holds what a command needs once the configuration is loaded.
type app struct {
	version string
	cfg     *config.Config
	tel     *telemetry.Telemetry
	logger  zerolog.Logger
	store   *stores.SQLiteStore
	client  *fivetran.Client
}

// needs selects the parts of app a command sets up.
type needs struct {
	api       bool
	databases bool
	store     bool
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, withExitCode(exitInvalidConf, err)
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	return cfg, nil
}

func newApp(ctx context.Context, version string, n needs) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if n.api {
		if err := cfg.RequireAPI(); err != nil {
			return nil, withExitCode(exitInvalidConf, err)
		}
	}
	if n.databases {
		if err := cfg.RequireDatabases(); err != nil {
			return nil, withExitCode(exitInvalidConf, err)
		}
	}

	cfg.Telemetry.ServiceVersion = version
	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if err := tel.StartMetricsServer(); err != nil {
		return nil, fmt.Errorf("failed to start metrics server: %w", err)
	}

	a := &app{
		version: version,
		cfg:     cfg,
		tel:     tel,
		logger:  tel.Logger.Zerolog(),
	}
	log.Logger = a.logger

	if n.store {
		if err := a.openStore(ctx); err != nil {
			a.close()
			return nil, err
		}
	}

	if n.api {
		client, err := fivetran.NewClient(cfg.Client("syncprobe/"+version),
			fivetran.WithLogger(a.logger),
			fivetran.WithMetrics(tel.Metrics),
			fivetran.WithTracer(tel.Tracer),
		)
		if err != nil {
			a.close()
			return nil, withExitCode(exitInvalidConf, err)
		}
		a.client = client
	}

	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	store, err := stores.NewSQLiteStore(a.cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to create run ledger: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("failed to open run ledger %s: %w", a.cfg.Store.Path, err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return fmt.Errorf("failed to migrate run ledger: %w", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		_ = store.Close()
		return fmt.Errorf("run ledger unavailable: %w", err)
	}
	a.store = store

	// Events outlive a cancelled run so the ledger records how it ended.
	a.tel.Events.Subscribe(store.EventSink(context.WithoutCancel(ctx), a.tel.Logger.Component("ledger")), nil)
	return nil
}

// recorder returns the ledger as an engine.Recorder, or nil without one.
func (a *app) recorder() engine.Recorder {
	if a.store == nil {
		return nil
	}
	return a.store
}

// audit records a destructive command in the ledger.
func (a *app) audit(ctx context.Context, action, target string, details interface{}) {
	if a.store == nil {
		return
	}

	entry := &stores.AuditEntry{
		Action:    action,
		Actor:     actor(),
		Timestamp: time.Now().UTC(),
	}
	if target != "" {
		entry.TargetID = &target
	}
	if details != nil {
		if b, err := json.Marshal(details); err == nil {
			s := string(b)
			entry.Details = &s
		}
	}

	if err := a.store.CreateAuditEntry(context.WithoutCancel(ctx), entry); err != nil {
		a.logger.Warn().Err(err).Str("action", action).Msg("Failed to write audit entry")
	}
}

// sweep deletes resources older than the retention threshold.
func (a *app) sweep(ctx context.Context) (*engine.SweepReport, error) {
	sweeper := engine.NewSweeper(a.client,
		engine.WithSweeperLogger(a.logger),
		engine.WithSweeperTelemetry(a.tel.Metrics, a.tel.Events),
		engine.WithSweeperRecorder(a.recorder()),
	)
	sweeper.MaxAge = a.cfg.Run.MaxAge
	sweeper.Mode = a.cfg.Mode()
	sweeper.OrphanGroups = a.cfg.Run.SweepOrphanGroups

	report, err := sweeper.Sweep(ctx)
	a.audit(ctx, "sweep", "", report)
	return report, err
}

// orchestrator builds an orchestrator wired to the ledger and telemetry.
func (a *app) orchestrator(options ...engine.OrchestratorOption) *engine.Orchestrator {
	base := []engine.OrchestratorOption{
		engine.WithLogger(a.logger),
		engine.WithTelemetry(a.tel.Tracer, a.tel.Metrics, a.tel.Events),
	}
	if r := a.recorder(); r != nil {
		base = append(base, engine.WithRecorder(r))
	}
	return engine.NewOrchestrator(a.client, a.cfg.EngineOptions(), append(base, options...)...)
}

// close flushes telemetry and closes the ledger. Events are drained before
// the ledger closes.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.tel.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close run ledger")
		}
	}
}

func actor() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}
