// Package daemon wires the engine together with fx and owns the process
// lifecycle: one daemon per data directory, guarded by a file lock.
package daemon

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/finly/smsync/internal/appdir"
	"github.com/finly/smsync/internal/bus"
	"github.com/finly/smsync/internal/config"
	"github.com/finly/smsync/internal/httpapi"
	"github.com/finly/smsync/internal/importer"
	"github.com/finly/smsync/internal/inbox"
	"github.com/finly/smsync/internal/lock"
	"github.com/finly/smsync/internal/logging"
	"github.com/finly/smsync/internal/lookback"
	"github.com/finly/smsync/internal/permission"
	"github.com/finly/smsync/internal/realtime"
	"github.com/finly/smsync/internal/scan"
	"github.com/finly/smsync/internal/state"
	"github.com/finly/smsync/internal/status"
	"github.com/finly/smsync/internal/syncer"
	"github.com/finly/smsync/internal/telemetry"
)

// Params holds daemon startup options passed to the fx module.
type Params struct {
	ConfigPath string // optional override; empty = default config path
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideState,
			provideInboxReader,
			provideEventSource,
			provideImporter,
			providePermission,
			provideScanner,
			provideListener,
			provideSyncer,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = appdir.ConfigPath()
	}
	return config.Load(path)
}

func provideLogger() (*zap.Logger, error) {
	if err := appdir.Ensure(); err != nil {
		return nil, err
	}
	return logging.New(appdir.LogPath())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring data dir lock", zap.String("dir", appdir.Base()))
	l, err := lock.Acquire(appdir.Base())
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired")
	return l, nil
}

func provideState(logger *zap.Logger, _ *lock.Lock) (*state.DB, error) {
	dbPath := appdir.DBPath()
	db, err := state.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("state db opened", zap.String("path", dbPath))
	return db, nil
}

// The daemon host has no readable SMS inbox; the native mobile bridge
// supplies real implementations when the engine is embedded there.
func provideInboxReader() inbox.PagedReader {
	return inbox.Unsupported{}
}

func provideEventSource() inbox.EventSource {
	return inbox.Unsupported{}
}

func provideImporter(cfg *config.Config) *importer.Client {
	return importer.NewClient(cfg.Backend.BaseURL)
}

func providePermission() permission.Checker {
	return permission.Granted{}
}

func provideScanner(reader inbox.PagedReader, client *importer.Client, perms permission.Checker, db *state.DB, b *bus.Bus, logger *zap.Logger) *scan.Scanner {
	return scan.New(reader, client, perms, db, b, logger)
}

func provideListener(source inbox.EventSource, client *importer.Client, db *state.DB, b *bus.Bus, logger *zap.Logger) *realtime.Listener {
	return realtime.New(source, client, db, b, logger)
}

func provideSyncer(scanner *scan.Scanner, listener *realtime.Listener, machine *status.Machine, db *state.DB, logger *zap.Logger) *syncer.Syncer {
	return syncer.New(scanner, listener, machine, db, logger)
}

func provideServer(cfg *config.Config, sy *syncer.Syncer, machine *status.Machine, listener *realtime.Listener, db *state.DB, logger *zap.Logger) *httpapi.Server {
	return httpapi.NewServer(cfg.Daemon.ListenAddr, cfg.UserID, sy, machine, listener, db, logger)
}

func registerLifecycle(lc fx.Lifecycle, cfg *config.Config, srv *httpapi.Server, lk *lock.Lock, sy *syncer.Syncer, machine *status.Machine, db *state.DB, logger *zap.Logger) {
	var (
		telemetryShutdown telemetry.ShutdownFunc = func(context.Context) error { return nil }
		detachRealtime    func()
		stopTicker        chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			shutdown, err := telemetry.Setup(ctx, telemetry.Config{
				OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
				Insecure:     cfg.Telemetry.Insecure,
				ServiceName:  cfg.Telemetry.ServiceName,
			})
			if err != nil {
				logger.Warn("telemetry disabled", zap.Error(err))
			} else {
				telemetryShutdown = shutdown
			}

			if err := srv.Start(); err != nil {
				return err
			}

			_ = machine.Transition(status.Idle)

			detach, err := sy.StartRealtime(cfg.UserID, nil)
			if err != nil {
				logger.Warn("realtime listener unavailable", zap.Error(err))
			} else {
				detachRealtime = detach
			}

			// Bootstrap in the background so fx startup never blocks on the
			// backend.
			go func() {
				n, err := sy.BootstrapSync(context.Background(), cfg.UserID)
				if err != nil {
					logger.Error("bootstrap sync failed", zap.Error(err))
					return
				}
				logger.Info("bootstrap sync done", zap.Int("imported", n))
			}()

			stopTicker = make(chan struct{})
			interval := time.Duration(cfg.Daemon.LiveIntervalMinutes) * time.Minute
			go func() {
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					select {
					case <-ticker.C:
						if _, err := sy.SyncTransactions(context.Background(), cfg.UserID, lookback.ModeLive, scan.Options{}); err != nil {
							logger.Warn("live sync failed", zap.Error(err))
						}
					case <-stopTicker:
						return
					}
				}
			}()

			logger.Info("daemon started",
				zap.String("listen", srv.Addr()),
				zap.Duration("live_interval", interval))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if stopTicker != nil {
				close(stopTicker)
			}
			if detachRealtime != nil {
				detachRealtime()
			}
			if err := srv.Stop(ctx); err != nil {
				logger.Warn("control API shutdown", zap.Error(err))
			}
			if err := telemetryShutdown(ctx); err != nil {
				logger.Warn("telemetry shutdown", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				logger.Warn("close state db", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("release data dir lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
