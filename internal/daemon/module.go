package daemon

import (
	"context"
	"time"

	"github.com/wtfpos/posd/internal/api"
	"github.com/wtfpos/posd/internal/auth"
	"github.com/wtfpos/posd/internal/bus"
	"github.com/wtfpos/posd/internal/catalog"
	"github.com/wtfpos/posd/internal/config"
	"github.com/wtfpos/posd/internal/connectivity"
	"github.com/wtfpos/posd/internal/imagecache"
	"github.com/wtfpos/posd/internal/lock"
	"github.com/wtfpos/posd/internal/logging"
	"github.com/wtfpos/posd/internal/outbox"
	"github.com/wtfpos/posd/internal/posapi"
	"github.com/wtfpos/posd/internal/status"
	"github.com/wtfpos/posd/internal/store"
	"github.com/wtfpos/posd/internal/terminal"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	requestTimeout = 15 * time.Second
	imageTimeout   = 30 * time.Second
	linkInterval   = 2 * time.Second
)

// Params holds the resolved terminal configuration passed to the fx module.
type Params struct {
	Terminal   string
	SocketPath string           // optional override for testing; empty = use default
	Settings   *config.Settings // optional override; nil = config.toml, .env and environment
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideSettings,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideAuth,
			provideAPIClient,
			provideMonitor,
			provideLinkWatcher,
			provideImageCache,
			provideCatalog,
			provideQueue,
			provideCheckout,
			provideService,
			newStatusDriver,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideSettings(p Params) (config.Settings, error) {
	if p.Settings != nil {
		return *p.Settings, nil
	}
	if err := config.LoadEnv(terminal.EnvPath()); err != nil {
		return config.Settings{}, err
	}
	cfg, err := config.LoadOrEmpty(terminal.ConfigPath())
	if err != nil {
		return config.Settings{}, err
	}
	cfg.ApplyEnv()
	return cfg.Settings()
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(terminal.LogPath(p.Terminal), p.Terminal)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := terminal.EnsureDir(p.Terminal); err != nil {
		return nil, err
	}
	logger.Info("acquiring terminal lock", zap.String("terminal", p.Terminal))
	l, err := lock.Acquire(terminal.Dir(p.Terminal), p.Terminal)
	if err != nil {
		return nil, err
	}
	logger.Info("terminal lock acquired")
	return l, nil
}

// provideStore takes the lock so the database is only opened by its owner.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := terminal.DBPath(p.Terminal)
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
		logger.Info("schema migrated", zap.Uint("from", result.From), zap.Uint("to", result.Version))
	} else {
		logger.Debug("schema up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideAuth(db *store.DB, b *bus.Bus, s config.Settings, logger *zap.Logger) (*auth.Session, error) {
	sess := auth.NewSession(db, b, logger.Named("auth"))
	if err := sess.Load(s.Token); err != nil {
		return nil, err
	}
	return sess, nil
}

func provideAPIClient(s config.Settings, sess *auth.Session) *posapi.Client {
	return posapi.New(s.APIURL, sess, requestTimeout)
}

func provideMonitor(c *posapi.Client, b *bus.Bus, s config.Settings, logger *zap.Logger) *connectivity.Monitor {
	opts := connectivity.DefaultOptions()
	opts.ProbeInterval = s.ProbeInterval
	opts.OfflineRecheck = s.OfflineRecheck
	return connectivity.New(connectivity.ProberFunc(c.Health), b, logger.Named("connectivity"), opts)
}

func provideLinkWatcher(m *connectivity.Monitor, logger *zap.Logger) *connectivity.LinkWatcher {
	return connectivity.NewLinkWatcher(m, linkInterval, connectivity.InterfacesUp, logger.Named("link"))
}

func provideImageCache(p Params, db *store.DB, s config.Settings, logger *zap.Logger) *imagecache.Cache {
	opts := imagecache.DefaultOptions()
	opts.MaxAge = s.ImageMaxAge
	opts.MaxEntries = s.ImageMaxEntries
	return imagecache.New(db, terminal.ImageDir(p.Terminal), imagecache.NewHTTPFetcher(imageTimeout), logger.Named("images"), opts)
}

func provideCatalog(c *posapi.Client, db *store.DB, images *imagecache.Cache, m *connectivity.Monitor, b *bus.Bus, s config.Settings, logger *zap.Logger) *catalog.Cache {
	return catalog.New(c, db, images, m, b, logger.Named("catalog"), s.CatalogRefresh)
}

func provideQueue(db *store.DB, c *posapi.Client, m *connectivity.Monitor, sess *auth.Session, b *bus.Bus, s config.Settings, logger *zap.Logger) *outbox.Queue {
	return outbox.New(db, c, m, sess, b, logger.Named("outbox"), outbox.Options{BatchSize: s.BatchSize})
}

func provideCheckout(c *posapi.Client, q *outbox.Queue, m *connectivity.Monitor, db *store.DB, logger *zap.Logger) *outbox.Checkout {
	return outbox.NewCheckout(c, q, m, db, logger.Named("checkout"))
}

func provideService(p Params, c *posapi.Client, m *status.Machine, mon *connectivity.Monitor, cat *catalog.Cache, q *outbox.Queue, co *outbox.Checkout, sess *auth.Session, db *store.DB, b *bus.Bus, logger *zap.Logger) *api.Service {
	return api.NewService(api.Components{
		Terminal: p.Terminal,
		Server:   c.BaseURL(),
		Machine:  m,
		Monitor:  mon,
		Catalog:  cat,
		Queue:    q,
		Checkout: co,
		Auth:     sess,
		DB:       db,
		Bus:      b,
		Logger:   logger.Named("api"),
	})
}

// components groups what the lifecycle hook starts and stops.
type components struct {
	fx.In

	Server  *Server
	Lock    *lock.Lock
	DB      *store.DB
	Machine *status.Machine
	Monitor *connectivity.Monitor
	Link    *connectivity.LinkWatcher
	Catalog *catalog.Cache
	Queue   *outbox.Queue
	Driver  *statusDriver
	Logger  *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, c components) {
	var cancel context.CancelFunc
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := c.Queue.Load(ctx); err != nil {
				return err
			}

			var runCtx context.Context
			runCtx, cancel = context.WithCancel(context.Background())

			// Start gRPC server in background.
			go func() {
				if err := c.Server.Start(); err != nil {
					c.Logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			// Subscribers first, so no connectivity change is missed.
			c.Catalog.Start(runCtx)
			c.Queue.Start(runCtx)
			c.Driver.Start(runCtx)
			c.Monitor.Start(runCtx)
			c.Link.Start(runCtx)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			c.Queue.Stop()
			c.Catalog.Stop()
			c.Driver.Stop()
			c.Link.Stop()
			c.Monitor.Stop()
			c.Server.Stop(ctx)
			if err := c.DB.Close(); err != nil {
				c.Logger.Warn("error closing store", zap.Error(err))
			}
			if err := c.Lock.Release(); err != nil {
				c.Logger.Warn("error releasing lock", zap.Error(err))
			}
			c.Logger.Info("daemon stopped")
			_ = c.Logger.Sync()
			return nil
		},
	})
}
