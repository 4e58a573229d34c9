package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/wsgate/core/backbone"
	"github.com/dmitrymomot/wsgate/core/config"
	gw "github.com/dmitrymomot/wsgate/core/gateway"
	"github.com/dmitrymomot/wsgate/core/health"
	"github.com/dmitrymomot/wsgate/core/logger"
	"github.com/dmitrymomot/wsgate/core/server"
	"github.com/dmitrymomot/wsgate/core/session"
	"github.com/dmitrymomot/wsgate/core/websocket"
)

// App wires the gateway, its drivers and the HTTP surface together.
type App struct {
	config   Config
	logger   *slog.Logger
	registry *prometheus.Registry
	store    session.Store
	backbone *backbone.Backbone
	gateway  *gw.Gateway
	handler  *websocket.Handler
	server   *server.Server

	redis   goredis.UniversalClient
	checks  []health.Check
	closers []func() error
}

type AppOption func(*App) error

// NewApp loads Config from the environment, applies opts and opens every
// configured dependency. On error, whatever was opened is closed again.
func NewApp(ctx context.Context, opts ...AppOption) (*App, error) {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}

	app := &App{config: cfg}
	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	if app.logger == nil {
		app.logger = newLogger(app.config)
	}
	if app.registry == nil {
		app.registry = prometheus.NewRegistry()
		app.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	if err := app.build(ctx); err != nil {
		return nil, errors.Join(ErrDependencyFailure, err, app.close())
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	nodeID := a.nodeID()

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	a.store = store

	bb, err := a.openBackbone(ctx, nodeID)
	if err != nil {
		return err
	}
	a.backbone = bb
	a.checks = append(a.checks, bb.Healthcheck)

	a.gateway, err = gw.NewFromConfig(store, bb, a.config.Gateway,
		gw.WithLogger(a.logger.With(logger.Component("gateway"), logger.NodeID(nodeID))),
		gw.WithRegisterer(a.registry),
	)
	if err != nil {
		return err
	}

	a.handler = websocket.NewHandlerFromConfig(a.gateway, a.config.WebSocket,
		websocket.WithLogger(a.logger.With(logger.Component("websocket"))),
	)

	a.server, err = server.NewFromConfig(a.config.Server,
		server.WithLogger(a.logger.With(logger.Component("server"))),
		server.WithShutdownHook(a.handler.Shutdown),
	)
	return err
}

func newLogger(cfg Config) *slog.Logger {
	opts := []logger.Option{logger.WithContextValue("request_id", middleware.RequestIDKey)}
	if cfg.IsProduction() {
		opts = append(opts, logger.WithProduction(cfg.AppName))
	} else {
		opts = append(opts, logger.WithDevelopment(cfg.AppName))
	}
	// LOG_LEVEL overrides the environment preset.
	opts = append(opts, logger.WithLevel(logger.ParseLevel(cfg.LogLevel)))
	return logger.New(opts...)
}

// Handler returns the HTTP surface: the websocket endpoint, health probes
// and Prometheus metrics.
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Handle(a.config.WSPath, a.handler)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness(a.logger, a.config.ReadyTimeout, a.checks...))
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))
	return r
}

// Run starts the backbone, clears presence left by a previous run of this
// node, then serves HTTP until ctx is cancelled. The backbone outlives the
// server so that disconnects during shutdown are still announced.
func (a *App) Run(ctx context.Context) error {
	defer func() {
		if err := a.close(); err != nil {
			a.logger.Error("failed to close dependencies", logger.Error(err))
		}
	}()

	bbCtx, stopBackbone := context.WithCancel(context.WithoutCancel(ctx))
	defer stopBackbone()

	var bbErr error
	bbDone := make(chan struct{})
	go func() {
		defer close(bbDone)
		bbErr = a.backbone.Run(bbCtx)()
	}()

	select {
	case <-a.backbone.Ready():
	case <-bbDone:
		return errors.Join(ErrBackboneStopped, bbErr)
	case <-ctx.Done():
		stopBackbone()
		<-bbDone
		return nil
	}

	if err := a.gateway.Recover(ctx); err != nil {
		a.logger.WarnContext(ctx, "failed to recover stale presence", logger.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(a.server.Run(gctx, a.Handler()))
	g.Go(func() error {
		select {
		case <-bbDone:
			return errors.Join(ErrBackboneStopped, bbErr)
		case <-gctx.Done():
			return nil
		}
	})
	err := g.Wait()

	stopBackbone()
	<-bbDone
	return err
}

// Addr returns the bound server address.
func (a *App) Addr() string {
	return a.server.Addr()
}

func (a *App) Logger() *slog.Logger {
	return a.logger
}

func WithConfig(cfg Config) AppOption {
	return func(app *App) error {
		app.config = cfg
		return nil
	}
}

func WithLogger(l *slog.Logger) AppOption {
	return func(app *App) error {
		if l == nil {
			return errors.New("logger cannot be nil")
		}
		app.logger = l
		return nil
	}
}

// WithRegistry sets the Prometheus registry served on /metrics.
func WithRegistry(reg *prometheus.Registry) AppOption {
	return func(app *App) error {
		if reg == nil {
			return errors.New("registry cannot be nil")
		}
		app.registry = reg
		return nil
	}
}
