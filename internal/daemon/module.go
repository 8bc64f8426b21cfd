package daemon

import (
	"context"
	"fmt"

	"github.com/meshtalk/meshtalk/internal/bus"
	"github.com/meshtalk/meshtalk/internal/chat"
	"github.com/meshtalk/meshtalk/internal/config"
	"github.com/meshtalk/meshtalk/internal/delivery"
	"github.com/meshtalk/meshtalk/internal/identity"
	"github.com/meshtalk/meshtalk/internal/inbound"
	"github.com/meshtalk/meshtalk/internal/link"
	"github.com/meshtalk/meshtalk/internal/lock"
	"github.com/meshtalk/meshtalk/internal/logging"
	"github.com/meshtalk/meshtalk/internal/mesh"
	"github.com/meshtalk/meshtalk/internal/metrics"
	"github.com/meshtalk/meshtalk/internal/presence"
	"github.com/meshtalk/meshtalk/internal/session"
	"github.com/meshtalk/meshtalk/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	SocketPath string         // optional override for testing; empty = use default
	Transport  mesh.Transport // optional override for testing; nil = loopback
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideProfile,
			provideIdentity,
			provideStore,
			provideRegistry,
			provideMetrics,
			provideMetricsServer,
			provideLinkMachine,
			provideTransport,
			provideAdapter,
			provideTracker,
			provideChatService,
			provideReconciler,
			provideEngine,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.Profile), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(session.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideProfile loads the profile config, minting a peer identity on first
// run. The peer id is written back immediately so it survives restarts.
func provideProfile(p Params, _ *lock.Lock, logger *zap.Logger) (*config.Profile, error) {
	path := session.ProfileConfigPath(p.Profile)
	cfg, err := config.LoadProfile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile config: %w", err)
	}
	if cfg.PeerID == "" {
		id, err := identity.NewPeerID()
		if err != nil {
			return nil, fmt.Errorf("mint peer id: %w", err)
		}
		cfg.PeerID = id
		if cfg.Nickname == "" {
			cfg.Nickname = p.Profile
		}
		if err := config.SaveProfile(path, cfg); err != nil {
			return nil, fmt.Errorf("save profile config: %w", err)
		}
		logger.Info("minted peer identity", zap.String("peer_id", cfg.PeerID))
	}
	return cfg, nil
}

func provideIdentity(cfg *config.Profile) identity.Payload {
	return identity.Payload{
		ID:              cfg.PeerID,
		Nickname:        cfg.Nickname,
		ProtocolVersion: identity.ProtocolVersion,
	}
}

func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.Profile)
	db, err := store.Open(dbPath)
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
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

func provideMetrics(reg *prometheus.Registry) *metrics.Metrics {
	return metrics.New(reg)
}

func provideMetricsServer(cfg *config.Profile, reg *prometheus.Registry, logger *zap.Logger) *metrics.Server {
	return metrics.NewServer(cfg.Metrics.Addr, reg, logger)
}

func provideLinkMachine(b *bus.Bus) *link.Machine {
	return link.NewMachine(b)
}

func provideTransport(p Params, id identity.Payload) mesh.Transport {
	if p.Transport != nil {
		return p.Transport
	}
	return mesh.NewLoopback(mesh.Identity{ID: id.ID, DisplayName: id.Nickname})
}

func provideAdapter(t mesh.Transport, b *bus.Bus, m *link.Machine, logger *zap.Logger) *mesh.Adapter {
	return mesh.NewAdapter(t, b, m, logger)
}

func provideTracker(b *bus.Bus, db *store.DB, logger *zap.Logger) *presence.Tracker {
	return presence.NewTracker(b, db, logger)
}

func provideChatService(db *store.DB, b *bus.Bus, tracker *presence.Tracker, cfg *config.Profile, id identity.Payload, logger *zap.Logger) *chat.Service {
	return chat.NewService(db, b, tracker, cfg.Limits, id, logger)
}

func provideReconciler(db *store.DB, b *bus.Bus, svc *chat.Service, m *metrics.Metrics, cfg *config.Profile, id identity.Payload, logger *zap.Logger) *inbound.Reconciler {
	rc := inbound.Config{
		MaxMessageLength: cfg.Limits.MaxMessageLength,
		MaxImageSize:     cfg.Limits.MaxImageSize,
		Rate:             cfg.Inbound.Rate,
		Burst:            cfg.Inbound.Burst,
	}
	return inbound.NewReconciler(db, b, svc, m, rc, id.ID, logger)
}

func provideEngine(db *store.DB, t mesh.Transport, b *bus.Bus, m *metrics.Metrics, cfg *config.Profile, id identity.Payload, logger *zap.Logger) *delivery.Engine {
	dc := delivery.Config{
		MaxAttempts:    cfg.Delivery.MaxAttempts,
		Tick:           cfg.Delivery.Tick.Duration,
		AttemptTimeout: cfg.Delivery.AttemptTimeout.Duration,
	}
	return delivery.NewEngine(db, t, b, m, dc, id.ID, logger)
}

func registerLifecycle(
	lc fx.Lifecycle,
	srv *Server,
	lk *lock.Lock,
	adapter *mesh.Adapter,
	tracker *presence.Tracker,
	reconciler *inbound.Reconciler,
	engine *delivery.Engine,
	metricsSrv *metrics.Server,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			adapter.Start(context.Background())
			tracker.Start(context.Background())
			reconciler.Start(context.Background())
			engine.Start(context.Background())
			if metricsSrv != nil {
				metricsSrv.Start()
			}

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("api server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			if metricsSrv != nil {
				metricsSrv.Stop(ctx)
			}
			engine.Stop()
			reconciler.Stop()
			tracker.Stop()
			adapter.Stop()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
