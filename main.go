// Command clip-tender runs the capture API and its background workers.
// It:
//   - Loads configuration and initializes structured logging.
//   - Opens the configured capture store (postgres, redis or memory) and migrates postgres.
//   - Starts the reconcile scheduler, the retention prune job, the optional Kafka
//     VOD-available consumer and the Twitch user token refresher.
//   - Serves the RPC endpoint, REST views, admin endpoints, /healthz, /readyz and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/clip-tender/config"
	"github.com/onnwee/clip-tender/db"
	"github.com/onnwee/clip-tender/events"
	"github.com/onnwee/clip-tender/oauth"
	"github.com/onnwee/clip-tender/reconcile"
	"github.com/onnwee/clip-tender/server"
	"github.com/onnwee/clip-tender/store"
	"github.com/onnwee/clip-tender/telemetry"
	"github.com/onnwee/clip-tender/twitchapi"
)

const version = "1.0.0"

func main() {
	// local dev convenience only; production relies on real env
	_ = godotenv.Load(".env")

	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// tracing is a no-op unless OTEL_EXPORTER_OTLP_ENDPOINT is set
	shutdown, err := telemetry.InitTracing("clip-tender", version)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := server.Deps{Config: cfg}
	var captures reconcile.Store
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		database := openDatabase(cfg.DBDsn)
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		captures = db.NewCaptureStore(database)
		deps.DB = database
	case config.BackendRedis:
		client := store.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer func() {
			if err := client.Close(); err != nil {
				slog.Error("failed to close redis client", slog.Any("err", err))
			}
		}()
		captures = store.NewRedis(client, "clip-tender:")
		deps.Redis = client
		deps.Ping = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	default:
		slog.Warn("using in-memory capture store; captures are lost on restart")
		captures = store.NewMemory()
	}
	slog.Info("capture store ready", slog.String("backend", cfg.StoreBackend))

	svc := reconcile.NewService(captures)
	policy := reconcile.LoadPolicy()
	deps.Service = svc
	deps.Policy = policy

	// Helix-backed VOD lookups need app credentials. Without them captures are only
	// reconciled through explicit link requests and VOD-available events.
	if err := cfg.ValidateTwitchReady(); err == nil {
		helix := &twitchapi.HelixClient{
			AppTokenSource: &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret},
			ClientID:       cfg.TwitchClientID,
			HTTPClient:     &http.Client{Timeout: 15 * time.Second},
		}
		cache := twitchapi.TieredCache{Local: twitchapi.NewLocalCache(cfg.VODCacheTTL)}
		if cfg.MemcacheAddr != "" {
			mc := twitchapi.NewMemcacheCache(cfg.VODCacheTTL, cfg.MemcacheAddr)
			if err := mc.Ping(); err != nil {
				slog.Warn("memcache unreachable, vod cache stays process-local", slog.Any("err", err))
			} else {
				cache.Shared = mc
			}
		}
		deps.Provider = twitchapi.NewVODProvider(helix, cache)
		deps.Streams = helix
	} else {
		slog.Info("twitch vod provider disabled", slog.Any("reason", err))
	}

	sched := reconcile.NewScheduler(svc, deps.Provider, policy)
	deps.Scheduler = sched
	go sched.Run(ctx)
	go reconcile.StartPruneJob(ctx, svc, policy)

	if cfg.KafkaEnabled() {
		consumer := events.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, &events.Dispatcher{Service: svc, Scheduler: sched})
		go func() {
			if err := consumer.Run(ctx); err != nil {
				slog.Error("vod event consumer exited", slog.Any("err", err))
			}
		}()
		publisher := events.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() {
			if err := publisher.Close(); err != nil {
				slog.Warn("failed to close kafka publisher", slog.Any("err", err))
			}
		}()
		deps.Events = publisher
	}

	if deps.DB != nil && cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
		oc := twitchapi.UserOAuthConfig(cfg.TwitchClientID, cfg.TwitchClientSecret, cfg.TwitchRedirectURI, cfg.TwitchScopes)
		oauth.StartRefresher(ctx, oauth.DBTokenStore{DB: deps.DB}, oauth.ProviderTwitch, 5*time.Minute, 15*time.Minute, oauth.TwitchRefreshFunc(oc))
	}

	if os.Getenv("ENABLE_PPROF") == "1" {
		startPprof()
	}

	if err := server.Start(ctx, deps, cfg.HTTPAddr); err != nil {
		slog.Error("http server exited with error", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("shutting down")
}

// openDatabase connects and migrates, exiting on failure. Versioned migrations
// (golang-migrate) run first; the embedded schema is the fallback for deployments without
// a migrations directory.
func openDatabase(dsn string) *sql.DB {
	database, err := db.Connect(dsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
			os.Exit(1)
		}
		slog.Info("embedded SQL migration completed", slog.String("component", "db_migrate"))
	} else {
		slog.Info("versioned migrations completed successfully", slog.String("component", "db_migrate"))
	}
	return database
}

func startPprof() {
	pprofAddr := os.Getenv("PPROF_ADDR")
	if pprofAddr == "" {
		pprofAddr = "localhost:6060"
	}
	go func() {
		slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
		srv := &http.Server{
			Addr:              pprofAddr,
			Handler:           nil, // default mux exposes /debug/pprof
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("pprof server error", slog.Any("err", err))
		}
	}()
}
