package app

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/access-gate/internal/api/http"
	"github.com/spec-kit/access-gate/internal/api/http/handlers"
	"github.com/spec-kit/access-gate/internal/auth"
	"github.com/spec-kit/access-gate/internal/config"
	"github.com/spec-kit/access-gate/internal/events"
	"github.com/spec-kit/access-gate/internal/gate"
	"github.com/spec-kit/access-gate/internal/oauth"
	"github.com/spec-kit/access-gate/internal/observability"
	"github.com/spec-kit/access-gate/internal/persistence"
	"github.com/spec-kit/access-gate/internal/repository"
	"github.com/spec-kit/access-gate/internal/routes"
	"github.com/spec-kit/access-gate/internal/service"
	"github.com/spec-kit/access-gate/internal/session"
	"github.com/spec-kit/access-gate/internal/worker"
)

// Dependencies are the stores behind the service. Connect builds them from
// configuration; tests pass in-memory ones.
type Dependencies struct {
	Users      repository.UserRepository
	Identities repository.IdentityRepository
	Sessions   session.Store
	States     oauth.TicketStore
	Codes      oauth.TicketStore
	Providers  oauth.Registry
	Postgres   *persistence.Postgres
	Redis      *persistence.Redis
}

// MemoryDependencies returns process-local stores and no OAuth providers.
func MemoryDependencies() Dependencies {
	return Dependencies{
		Users:      repository.NewMemoryUsers(),
		Identities: repository.NewMemoryIdentities(),
		Sessions:   session.NewMemoryStore(),
		States:     oauth.NewMemoryTicketStore(),
		Codes:      oauth.NewMemoryTicketStore(),
		Providers:  oauth.Registry{},
	}
}

// Connect opens Postgres and Redis when configured and falls back to
// in-memory stores for whichever is not. The returned func releases them.
func Connect(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Dependencies, func(), error) {
	deps := MemoryDependencies()
	deps.Providers = oauth.NewRegistry(cfg.OAuth, cfg.App.CallbackURL())

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return Dependencies{}, nil, fmt.Errorf("connect postgres: %w", err)
	}
	deps.Postgres = pg
	if pool := pg.PoolHandle(); pool != nil {
		if cfg.Postgres.RunMigrations {
			if err := persistence.RunMigrations(ctx, pool, logger); err != nil {
				pg.Close()
				return Dependencies{}, nil, fmt.Errorf("run migrations: %w", err)
			}
		}
		deps.Users = repository.NewUserRepository(pool)
		deps.Identities = repository.NewIdentityRepository(pool)
	}

	rdb := persistence.NewRedis(ctx, cfg.Redis, logger)
	deps.Redis = rdb
	if rdb != nil {
		deps.Sessions = session.NewRedisStore(rdb.Client)
		deps.States = oauth.NewRedisTicketStore(rdb.Client, "oauth_state:")
		deps.Codes = oauth.NewRedisTicketStore(rdb.Client, "auth_code:")
	}

	cleanup := func() {
		rdb.Close()
		pg.Close()
	}
	return deps, cleanup, nil
}

// App is the assembled service.
type App struct {
	Fiber      *fiber.App
	Auth       *service.AuthService
	Engine     *gate.Engine
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics

	notifications *service.NotificationService
}

// New assembles the HTTP service. Background workers stop when ctx is done.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, deps Dependencies) (*App, error) {
	routeCfg, err := routes.LoadConfig(cfg.Gate.RoutesFile)
	if err != nil {
		return nil, err
	}
	classifier, err := routes.NewClassifier(routeCfg)
	if err != nil {
		return nil, err
	}
	for _, w := range classifier.Warnings() {
		logger.Warn("route configuration", zap.String("warning", w))
	}

	metrics := observability.NewMetrics()
	engine, err := gate.NewEngine(classifier,
		gate.WithLoginPath(cfg.Gate.LoginPath),
		gate.WithFallbackPath(cfg.Gate.FallbackPath),
		gate.WithRedirectParam(cfg.Gate.RedirectParam),
		gate.WithAdminRole(cfg.Gate.AdminRole),
		gate.WithResolverTimeout(cfg.Gate.ResolverTimeout()),
		gate.WithLogger(logger.Named("gate")),
		gate.WithRecorder(metrics),
	)
	if err != nil {
		return nil, err
	}

	dispatcher := events.NewInMemoryDispatcher()
	authService := service.NewAuthService(*cfg, service.AuthDependencies{
		Users:      deps.Users,
		Identities: deps.Identities,
		Sessions:   deps.Sessions,
		States:     deps.States,
		Codes:      deps.Codes,
		Providers:  deps.Providers,
		Dispatcher: dispatcher,
		Logger:     logger.Named("auth"),
	})

	var webhook *worker.WebhookWorker
	var sink service.EventSink
	if cfg.Events.WebhookURL != "" {
		webhook = worker.NewWebhookWorker(cfg.Events.WebhookURL, nil, logger.Named("webhook"))
		sink = webhook
	}
	notifications := service.NewNotificationService(dispatcher, logger.Named("events"), sink)
	worker.StartNotificationWorker(ctx, notifications, webhook)

	if cfg.App.MemorySweepSchedule != "" {
		purgers := map[string]worker.Purger{}
		for name, store := range map[string]any{"sessions": deps.Sessions, "oauth_states": deps.States, "auth_codes": deps.Codes} {
			if p, ok := store.(worker.Purger); ok {
				purgers[name] = p
			}
		}
		janitor, err := worker.NewJanitor(cfg.App.MemorySweepSchedule, purgers, logger.Named("janitor"))
		if err != nil {
			return nil, err
		}
		janitor.Start(ctx)
	}

	source := session.NewSource(authService, cfg.Auth.CookieName)
	cookie := handlers.CookieConfig{Name: cfg.Auth.CookieName, Secure: cfg.Auth.CookieSecure}

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, healthDependencies(deps)...),
		Auth:           handlers.NewAuthHandler(authService, cookie, cfg.Gate.LoginPath, logger.Named("auth")),
		Callback:       handlers.NewCallbackHandler(authService, cookie, cfg.Gate.LoginPath, cfg.Gate.DefaultPostAuthRedirect, logger.Named("auth")),
		Pages:          handlers.NewPageHandler(cfg.App.UpstreamURL),
		AuthMiddleware: auth.NewAuthMiddleware(authService, cfg.Auth.CookieName),
		Gate: gate.Middleware(engine, func(c *fiber.Ctx) gate.Resolver {
			return source.ForRequest(c)
		}, gate.DefaultSkip),
		Metrics: metrics.Handler(),
	})

	return &App{
		Fiber:         app,
		Auth:          authService,
		Engine:        engine,
		Dispatcher:    dispatcher,
		Metrics:       metrics,
		notifications: notifications,
	}, nil
}

// Shutdown stops the HTTP server and releases event subscriptions.
func (a *App) Shutdown() error {
	a.notifications.Close()
	return a.Fiber.Shutdown()
}

func healthDependencies(deps Dependencies) []handlers.Dependency {
	users := handlers.Dependency{Name: "users", Backend: "memory"}
	if deps.Postgres.PoolHandle() != nil {
		users.Backend = "postgres"
		users.Ping = deps.Postgres.Ping
	}
	sessions := handlers.Dependency{Name: "sessions", Backend: "memory"}
	if deps.Redis != nil {
		sessions.Backend = "redis"
		sessions.Ping = deps.Redis.Ping
	}
	return []handlers.Dependency{users, sessions}
}
