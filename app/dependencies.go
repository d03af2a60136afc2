package app

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/upb/guardrails-control-plane/backend/auth"
	"github.com/upb/guardrails-control-plane/backend/config"
	"github.com/upb/guardrails-control-plane/backend/handlers"
	"github.com/upb/guardrails-control-plane/backend/internal/observability"
	"github.com/upb/guardrails-control-plane/backend/middleware"
	"github.com/upb/guardrails-control-plane/backend/repositories"
	"github.com/upb/guardrails-control-plane/backend/repositories/memory"
	"github.com/upb/guardrails-control-plane/backend/repositories/postgres"
	"github.com/upb/guardrails-control-plane/backend/services/audit"
	"github.com/upb/guardrails-control-plane/backend/services/capability"
	"github.com/upb/guardrails-control-plane/backend/services/catalog"
	"github.com/upb/guardrails-control-plane/backend/services/policy"
	"github.com/upb/guardrails-control-plane/backend/services/quota"
	"github.com/upb/guardrails-control-plane/backend/services/resolution"
	"github.com/upb/guardrails-control-plane/backend/services/rules"
	"github.com/upb/guardrails-control-plane/backend/services/sweep"
	"github.com/upb/guardrails-control-plane/backend/services/tenant"
	"go.uber.org/zap"
)

// cleanupInterval is how often in-process caches and counters drop expired keys
const cleanupInterval = time.Minute

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics
	DB      *postgres.DB  // nil on the memory store
	Redis   *redis.Client // nil when REDIS_ADDR is unset

	// Repository backends, exactly one is set
	RepoFactory *postgres.RepositoryFactory
	MemoryStore *memory.Store

	// Repositories
	Repos     *repositories.Repositories
	TxManager repositories.TransactionManager

	// Services
	Audit        *audit.Service
	Tenants      *tenant.Service
	Rules        *rules.Service
	Policies     *policy.PolicyService
	Capabilities *capability.Service
	Resolver     *resolution.Engine
	Quota        *quota.QuotaService
	Catalog      *catalog.Syncer
	Sweeper      *sweep.Sweeper

	// HTTP
	TenantHandler     *handlers.TenantHandler
	RuleHandler       *handlers.RuleHandler
	PolicyHandler     *handlers.PolicyHandler
	ResolutionHandler *handlers.ResolutionHandler
	CapabilityHandler *handlers.CapabilityHandler
	AuditHandler      *handlers.AuditHandler
	HealthHandler     *handlers.HealthHandler
	AuthMiddleware    *middleware.AuthMiddleware
	QuotaMiddleware   *middleware.QuotaMiddleware

	// Auth
	authHandler *auth.Handler
	issuer      *auth.Issuer

	// in-process backends that need a cleanup worker
	lruCache      *resolution.LRUCache
	memoryCounter *quota.MemoryCounter

	cancelBackground context.CancelFunc
}

// AuthHandler returns the auth handler for route wiring (implements handlers.AuthDeps)
func (d *Dependencies) AuthHandler() *auth.Handler {
	return d.authHandler
}

// Issuer returns the token issuer, or nil when no JWT secret is configured
func (d *Dependencies) Issuer() *auth.Issuer {
	return d.issuer
}

// NewDependencies creates and wires up all application dependencies.
// Background work is not started until Start is called.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}
	if cfg.Observability.MetricsEnabled {
		deps.Metrics = observability.NewMetrics(cfg.Observability.MetricsNamespace)
	}

	// Initialize storage
	if err := deps.initStorage(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize Redis
	if err := deps.initRedis(ctx, cfg); err != nil {
		deps.closeStorage()
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	deps.initServices(cfg)

	// Initialize auth
	if err := deps.initAuth(cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	deps.initHandlers()

	logger.Info("all dependencies initialized successfully",
		zap.String("storage", cfg.Storage.Driver),
		zap.Bool("redis", deps.Redis != nil),
		zap.Bool("auth", deps.issuer != nil),
		zap.Bool("metrics", deps.Metrics != nil))
	return deps, nil
}

// initStorage opens the configured repository backend
func (d *Dependencies) initStorage(ctx context.Context, cfg *config.Config) error {
	if cfg.Storage.Driver == config.StorageMemory {
		d.MemoryStore = memory.NewStore(d.Logger)
		d.Repos = d.MemoryStore.NewRepositories()
		d.TxManager = d.MemoryStore.GetTransactionManager()
		d.Logger.Warn("using in-memory storage, data is lost on restart")
		return nil
	}

	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if cfg.Storage.AutoMigrate {
		if err := factory.InitSchema(ctx); err != nil {
			_ = factory.Close()
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	d.Repos = factory.NewRepositories()
	d.TxManager = factory.GetTransactionManager()
	return nil
}

// initRedis connects the optional Redis client
func (d *Dependencies) initRedis(ctx context.Context, cfg *config.Config) error {
	if cfg.Redis.Addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("redis ping failed: %w", err)
	}

	d.Redis = client
	d.Logger.Info("redis connection established", zap.String("addr", cfg.Redis.Addr))
	return nil
}

// initServices builds the domain services bottom-up
func (d *Dependencies) initServices(cfg *config.Config) {
	d.Audit = audit.NewService(d.Repos.AuditLogs, d.Logger, d.Metrics)
	d.Tenants = tenant.NewService(d.Repos, d.TxManager, d.Audit, d.Logger, d.Metrics)
	d.Rules = rules.NewService(d.Repos, d.TxManager, d.Audit, d.Logger, d.Metrics)
	d.Policies = policy.NewPolicyService(d.Repos, d.TxManager, d.Audit, d.Logger, d.Metrics)

	var cache resolution.SnapshotCache
	switch {
	case d.Redis != nil:
		cache = resolution.NewRedisCache(d.Redis, cfg.Cache.SnapshotTTL, d.Logger)
	case cfg.Cache.SnapshotSize > 0:
		d.lruCache = resolution.NewLRUCache(cfg.Cache.SnapshotSize, cfg.Cache.SnapshotTTL)
		cache = d.lruCache
	}
	d.Resolver = resolution.NewEngine(d.Repos, cache, d.Logger, d.Metrics)

	d.Capabilities = capability.NewService(d.Repos, d.TxManager, d.Resolver, d.Audit, d.Logger)

	var counter quota.Counter
	if d.Redis != nil {
		counter = quota.NewRedisCounter(d.Redis)
	} else {
		d.memoryCounter = quota.NewMemoryCounter()
		counter = d.memoryCounter
	}
	d.Quota = quota.NewQuotaService(d.Repos.Apps, counter, d.Logger, d.Metrics)

	d.Catalog = catalog.NewSyncer(d.Repos, d.Rules, d.Capabilities, d.Logger)
	d.Sweeper = sweep.NewSweeper(d.Repos, d.Resolver, d.Logger, d.Metrics)
}

// initAuth builds the token validator and issuer. Without a secret every
// protected route answers 401 and the token endpoint is unavailable.
func (d *Dependencies) initAuth(cfg *config.Config) error {
	if !cfg.AuthEnabled() {
		d.Logger.Warn("JWT_SECRET not configured, protected routes reject every request")
		d.AuthMiddleware = middleware.NewAuthMiddleware(rejectAllValidator{}, false, d.Logger)
		return nil
	}

	authCfg := auth.Config{
		Secret:   cfg.Auth.JWTSecret,
		Issuer:   cfg.Auth.JWTIssuer,
		Audience: cfg.Auth.JWTAudience,
		TTL:      cfg.Auth.TokenTTL,
		Leeway:   30 * time.Second,
	}
	validator, err := auth.NewValidator(authCfg)
	if err != nil {
		return err
	}
	issuer, err := auth.NewIssuer(authCfg)
	if err != nil {
		return err
	}

	d.issuer = issuer
	d.authHandler = auth.NewHandler(issuer, d.Tenants, d.Logger)
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, cfg.Auth.AcceptLegacyTokens, d.Logger)
	if cfg.Auth.AcceptLegacyTokens {
		d.Logger.Warn("deprecated token aliases enabled (X-Admin-Token header, auth_token cookie)")
	}
	d.Logger.Info("auth handler initialized")
	return nil
}

// initHandlers builds the HTTP layer
func (d *Dependencies) initHandlers() {
	d.TenantHandler = handlers.NewTenantHandler(d.Tenants, d.Logger)
	d.RuleHandler = handlers.NewRuleHandler(d.Rules, d.Logger)
	d.PolicyHandler = handlers.NewPolicyHandler(d.Policies, d.Logger)
	d.ResolutionHandler = handlers.NewResolutionHandler(d.Resolver, d.Logger)
	d.CapabilityHandler = handlers.NewCapabilityHandler(d.Capabilities, d.Logger)
	d.AuditHandler = handlers.NewAuditHandler(d.Audit, d.Logger)
	d.QuotaMiddleware = middleware.NewQuotaMiddleware(d.Quota, d.Logger)

	var checks []handlers.HealthCheck
	if d.DB != nil {
		checks = append(checks, handlers.DatabaseCheck(d.DB.DB))
	}
	if d.Redis != nil {
		checks = append(checks, handlers.RedisCheck(d.Redis))
	}
	d.HealthHandler = handlers.NewHealthHandler(d.Logger, checks...)
}

// Start syncs the seed catalogue and launches the background workers: the
// catalogue watcher, the integrity sweeper and the in-process cleanup loops.
// They run until Close.
func (d *Dependencies) Start(ctx context.Context) error {
	if d.Config.Catalog.Path != "" {
		if _, err := d.Catalog.SyncFile(ctx, d.Config.Catalog.Path); err != nil {
			return fmt.Errorf("failed to sync catalog: %w", err)
		}
	}

	bg, cancel := context.WithCancel(context.Background())
	d.cancelBackground = cancel

	if d.Config.Catalog.Watch {
		watcher := catalog.NewWatcher(d.Config.Catalog.Path, d.Catalog, d.Config.Catalog.Debounce, d.Logger)
		go func() {
			if err := watcher.Watch(bg); err != nil {
				d.Logger.Error("catalog watcher stopped", zap.Error(err))
			}
		}()
	}

	if err := d.Sweeper.Start(bg, d.Config.Sweep.Schedule); err != nil {
		cancel()
		return fmt.Errorf("failed to start integrity sweeper: %w", err)
	}

	if d.lruCache != nil {
		go d.lruCache.StartCleanupWorker(bg, cleanupInterval)
	}
	if d.memoryCounter != nil {
		go d.memoryCounter.StartCleanupWorker(bg, cleanupInterval)
	}
	return nil
}

// rejectAllValidator rejects all tokens (used when no JWT secret is configured)
type rejectAllValidator struct{}

func (rejectAllValidator) ValidateToken(context.Context, string) (*auth.Principal, error) {
	return nil, fmt.Errorf("authentication not configured")
}

func (d *Dependencies) closeStorage() error {
	if d.RepoFactory == nil {
		return nil
	}
	return d.RepoFactory.Close()
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.cancelBackground != nil {
		d.cancelBackground()
	}
	if d.Sweeper != nil {
		d.Sweeper.Stop()
	}

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}

	// Close database connection
	if err := d.closeStorage(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close database: %w", err))
	} else if d.RepoFactory != nil {
		d.Logger.Info("database connection closed")
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
