package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/novaland/parley/internal/bus"
	"github.com/novaland/parley/internal/chain"
	"github.com/novaland/parley/internal/config"
	"github.com/novaland/parley/internal/identity"
	"github.com/novaland/parley/internal/lock"
	"github.com/novaland/parley/internal/logging"
	"github.com/novaland/parley/internal/negotiation"
	"github.com/novaland/parley/internal/property"
	"github.com/novaland/parley/internal/purchase"
	"github.com/novaland/parley/internal/realtime"
	"github.com/novaland/parley/internal/session"
	"github.com/novaland/parley/internal/store"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	Wallet string
	Config *config.Config
}

// Module returns the fx module for the session daemon, composing all
// providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideRegistry,
			provideCache,
			provideResolver,
			provideMachine,
			provideReconciler,
			provideOrchestrator,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.Wallet), p.Wallet)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.Wallet); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("wallet", p.Wallet))
	l, err := lock.Acquire(session.Dir(p.Wallet), p.Wallet)
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, b *bus.Bus, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.Wallet)
	db, err := store.Open(dbPath, b)
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

func provideRegistry(p Params, logger *zap.Logger) (*chain.Registry, error) {
	return chain.Dial(context.Background(), p.Config.ChainRPC, p.Config.ContractAddress, p.Config.KeyFile, logger)
}

func provideCache(registry *chain.Registry, logger *zap.Logger) *property.Cache {
	return property.NewCache(registry, logger)
}

func provideResolver(db *store.DB, logger *zap.Logger) *identity.Resolver {
	return identity.NewResolver(db, logger)
}

func provideMachine(db *store.DB, logger *zap.Logger) *negotiation.Machine {
	return negotiation.NewMachine(db, logger)
}

func provideReconciler(p Params, db *store.DB, b *bus.Bus, cache *property.Cache, names *identity.Resolver, logger *zap.Logger) *realtime.Reconciler {
	return realtime.NewReconciler(db, b, cache, names, p.Wallet, logger)
}

func provideOrchestrator(p Params, db *store.DB, cache *property.Cache, registry *chain.Registry, b *bus.Bus, logger *zap.Logger) (*purchase.Orchestrator, error) {
	wait, err := p.Config.ConfirmWait()
	if err != nil {
		return nil, err
	}
	return purchase.NewOrchestrator(db, cache, registry, b, logger, wait), nil
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, db *store.DB, registry *chain.Registry, cache *property.Cache, rec *realtime.Reconciler, _ *negotiation.Machine, _ *purchase.Orchestrator, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Reconciler first, so the initial cache prime's effects are
			// observed as view updates.
			rec.Start(context.Background())

			// The cache prime walks the full listing set over RPC; do it in
			// the background so startup is not gated on the chain peer.
			go func() {
				if err := cache.Prime(context.Background()); err != nil {
					logger.Error("initial property prime failed", zap.Error(err))
				}
			}()

			logger.Info("daemon started")
			return nil
		},
		OnStop: func(_ context.Context) error {
			rec.Stop()
			registry.Close()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
