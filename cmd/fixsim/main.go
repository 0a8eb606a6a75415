// Command fixsim runs the FIX 4.2 exchange simulator: a TCP acceptor that
// speaks the tag-value protocol, a price-time priority matching engine, an
// event bus fanning state changes out to subscribers, and a pluggable
// persistence backend behind a circuit breaker. Wiring follows the
// teacher's cmd/marketdata idiom: an fx.New graph of fx.Supply/fx.Provide
// constructors plus fx.Invoke lifecycle hooks that start the acceptor and
// the observability HTTP server, instead of hand-rolled setup/teardown code
// in main itself.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/ksuid"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/fixsim/internal/config"
	"github.com/abdoElHodaky/fixsim/internal/eventbus"
	"github.com/abdoElHodaky/fixsim/internal/fix/acceptor"
	"github.com/abdoElHodaky/fixsim/internal/fix/session"
	"github.com/abdoElHodaky/fixsim/internal/matching"
	"github.com/abdoElHodaky/fixsim/internal/matching/validate"
	"github.com/abdoElHodaky/fixsim/internal/observability"
	"github.com/abdoElHodaky/fixsim/internal/persistence"
	"github.com/abdoElHodaky/fixsim/internal/persistence/gormstore"
	"github.com/abdoElHodaky/fixsim/internal/persistence/memstore"
	"github.com/abdoElHodaky/fixsim/pkg/fixtypes"

	"github.com/panjf2000/ants/v2"
)

func main() {
	configPath := flag.String("config", "", "directory to search for config.yaml")
	flag.Parse()

	app := fx.New(
		fx.Supply(*configPath),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			providePersistence,
			provideValidator,
			provideMatchingEngine,
			provideWritePool,
			fx.Annotate(provideOrderIDFunc, fx.ResultTags(`name:"order_id_func"`)),
			fx.Annotate(provideSessionIDFunc, fx.ResultTags(`name:"session_id_func"`)),
			providePromRegistry,
			provideMetrics,
			provideObservabilityServer,
			fx.Annotate(
				provideAcceptor,
				fx.ParamTags("", "", "", "", "", "", "", `name:"order_id_func"`, `name:"session_id_func"`),
			),
		),
		fx.Invoke(
			startGCReporter,
			registerMetricsBridge,
			startAcceptor,
			startObservabilityServer,
		),
	)
	app.Run()
}

func provideConfig(configPath string) (*config.Config, error) {
	return config.LoadConfig(configPath)
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return config.InitLogger(cfg)
}

func provideBus(logger *zap.Logger) (*eventbus.Bus, error) {
	return eventbus.New(logger)
}

func providePersistence(cfg *config.Config, logger *zap.Logger) (persistence.Port, error) {
	var backing persistence.Port
	switch cfg.Persistence.Driver {
	case "postgres":
		pool := config.DefaultPoolConfig()
		db, err := config.NewPostgresDatabase(cfg.Persistence.DSN, pool)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres backend: %w", err)
		}
		store, err := gormstore.New(db, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize gorm store: %w", err)
		}
		backing = store
	default:
		backing = memstore.New()
	}
	return persistence.NewGuarded("persistence", backing, logger), nil
}

func provideValidator() *validate.Validator {
	return validate.New()
}

func provideMatchingEngine(logger *zap.Logger, bus *eventbus.Bus) *matching.Engine {
	execID := func() string { return ksuid.New().String() }
	return matching.New(execID, logger, bus)
}

func provideWritePool(cfg *config.Config) (*ants.Pool, error) {
	return ants.NewPool(cfg.Session.WritePoolSize)
}

func provideOrderIDFunc() func() string {
	return func() string { return ksuid.New().String() }
}

func provideSessionIDFunc() func() string {
	return func() string { return ksuid.New().String() }
}

func providePromRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

func provideMetrics(registry *prometheus.Registry) *observability.Metrics {
	return observability.NewMetrics(registry)
}

func provideObservabilityServer(
	cfg *config.Config,
	registry *prometheus.Registry,
	eng *matching.Engine,
	bus *eventbus.Bus,
	logger *zap.Logger,
) *observability.Server {
	sc := observability.DefaultServerConfig()
	sc.Address = fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort)
	mirror := observability.NewDebugMirror(bus, logger)
	return observability.NewServer(sc, registry, eng, mirror, logger)
}

func provideAcceptor(
	cfg *config.Config,
	logger *zap.Logger,
	eng *matching.Engine,
	val *validate.Validator,
	bus *eventbus.Bus,
	store persistence.Port,
	writePool *ants.Pool,
	orderIDFunc func() string,
	sessionIDFunc func() string,
) *acceptor.Acceptor {
	registry := session.NewOrderDirectory()
	session.RegisterFillRouter(bus, registry)

	sessionDeps := func() session.Deps {
		return session.Deps{
			Engine:             eng,
			Validator:          val,
			Bus:                bus,
			Store:              store,
			Logger:             logger,
			WritePool:          writePool,
			OrderIDFunc:        orderIDFunc,
			Registry:           registry,
			CancelOnDisconnect: cfg.Session.CancelOnDisconnect,
		}
	}
	return acceptor.New(acceptor.Deps{
		Logger:      logger,
		SessionDeps: sessionDeps,
		IDFunc:      sessionIDFunc,
	})
}

// registerMetricsBridge attaches a critical eventbus handler that decodes
// each envelope's payload and updates the matching Prometheus series,
// so fixsim_* counters and gauges reflect order flow without the matching
// engine or session layer importing observability directly.
func registerMetricsBridge(bus *eventbus.Bus, metrics *observability.Metrics, logger *zap.Logger) {
	bus.RegisterCritical(func(ctx context.Context, env eventbus.Envelope) error {
		switch env.Kind {
		case "order.accepted":
			metrics.OrderSubmitted()
		case "order.canceled":
			metrics.CancelRecorded()
		case "execution.reported":
			metrics.ExecutionRecorded(1)
		case "book.snapshot":
			var snap fixtypes.BookSnapshot
			if err := json.Unmarshal(env.Payload, &snap); err != nil {
				return nil
			}
			var bidQty, askQty int64
			for _, lvl := range snap.Bids {
				bidQty += lvl.Qty
			}
			for _, lvl := range snap.Asks {
				askQty += lvl.Qty
			}
			metrics.SetBookDepth(snap.Symbol, "bid", bidQty)
			metrics.SetBookDepth(snap.Symbol, "ask", askQty)
		}
		return nil
	})
	logger.Info("metrics bridge registered")
}

func startGCReporter(lc fx.Lifecycle, registry *prometheus.Registry) {
	reporter := observability.NewGCReporter(registry, 0)
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go reporter.Run(ctx, 30*time.Second)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func startAcceptor(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger, a *acceptor.Acceptor) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
			return a.Start(context.Background(), addr)
		},
		OnStop: func(ctx context.Context) error {
			return a.Stop()
		},
	})
}

func startObservabilityServer(lc fx.Lifecycle, srv *observability.Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			srv.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Stop(ctx)
		},
	})
}
