package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alicebob/miniredis"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/flashbots/blocklist-client/adapters/riskapi"
	"github.com/flashbots/blocklist-client/adapters/webfile"
	"github.com/flashbots/blocklist-client/application"
	"github.com/flashbots/blocklist-client/config"
	"github.com/flashbots/blocklist-client/database"
	"github.com/flashbots/blocklist-client/metrics"
	"github.com/flashbots/blocklist-client/screening"
	"github.com/flashbots/blocklist-client/server"
)

var (
	version = "dev" // is set during build process

	// defaults
	defaultDebug       = os.Getenv("DEBUG") == "1"
	defaultLogJSON     = os.Getenv("LOG_JSON") == "1"
	defaultConfigPath  = getEnvAsStrOrDefault("CONFIG_PATH", "./config/default.yml")
	defaultServiceName = getEnvAsStrOrDefault("SERVICE_NAME", "blocklist-client")

	// cli flags
	versionPtr  = flag.Bool("version", false, "just print the program version")
	configPath  = flag.String("config", defaultConfigPath, "path to the YAML config file, empty to configure from the environment only")
	debugPtr    = flag.Bool("debug", defaultDebug, "print debug output")
	logJSONPtr  = flag.Bool("log-json", defaultLogJSON, "log in JSON")
	serviceName = flag.String("serviceName", defaultServiceName, "name of the service which will be used in the logs")
)

func main() {
	flag.Parse()

	logLevel := log.LevelInfo
	if *debugPtr {
		logLevel = log.LevelDebug
	}
	var handler slog.Handler = log.NewTerminalHandlerWithLevel(os.Stderr, logLevel, true)
	if *logJSONPtr {
		handler = log.JSONHandlerWithLevel(os.Stderr, logLevel)
	}
	log.SetDefault(log.NewLogger(handler))
	logger := log.New("service", *serviceName, "version", version)

	// Perhaps print only the version
	if *versionPtr {
		logger.Info("blocklist-client", "version", version)
		return
	}

	settings, err := config.Load(*configPath)
	if err != nil {
		logger.Crit("Invalid configuration", "path", *configPath, "error", err)
	}
	logger.Info("Init blocklist-client", "listenAddress", settings.Address(), "riskApi", settings.RiskAnalysis.APIURL)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.InitProviderLookupMetric()
	if settings.Metrics.Listen != "" {
		metricsServer := metrics.DefaultServer(settings.Metrics.Listen)
		go func() {
			logger.Info("Starting metrics server", "listen", settings.Metrics.Listen)
			if err := metricsServer.ListenAndServe(); err != nil {
				logger.Error("Metrics server stopped", "error", err)
			}
		}()
	}

	cache, closeCache, err := newDecisionCache(logger, settings.Cache)
	if err != nil {
		logger.Crit("Decision cache init error", "error", err)
	}
	defer closeCache()

	provider, err := riskapi.NewClient(logger, settings.RiskAnalysis)
	if err != nil {
		logger.Crit("Risk API client init error", "error", err)
	}

	blocklist, err := screening.ReadBlocklistFromFile(settings.Blocklist.Path)
	if err != nil {
		logger.Crit("Blocklist init error", "error", err)
	}
	logger.Info("Local blocklist loaded", "path", settings.Blocklist.Path, "addresses", blocklist.Len())

	engine, err := screening.NewEngine(logger, provider, cache, blocklist, screening.OptionsFromSettings(settings))
	if err != nil {
		logger.Crit("Screening engine init error", "error", err)
	}

	if settings.Blocklist.URL != "" {
		fetcher := webfile.NewFetcher(settings.Blocklist.URL, nil)
		if _, err = application.StartBlocklistSyncService(ctx, logger, fetcher, engine, blocklist, settings.Blocklist.RefreshInterval); err != nil {
			logger.Crit("Remote blocklist init error", "url", settings.Blocklist.URL, "error", err)
		}
	}

	// Setup database
	var db database.Store
	if settings.Database.DSN == "" {
		db = database.NewMockStore()
	} else {
		pgStore, err := database.NewPostgresStore(settings.Database.DSN)
		if err != nil {
			logger.Crit("Database init error", "error", err)
		}
		defer pgStore.Close()
		if err = pgStore.Migrate(); err != nil {
			logger.Crit("Database migration error", "error", err)
		}
		db = pgStore
	}
	pusher := server.NewRequestPusher(logger, db, settings.Database.FlushSize, settings.Database.FlushInterval)
	pusher.Run()

	s := server.NewBlocklistClientServer(logger, version, settings.Address(), engine, pusher)
	go func() {
		if err := s.Start(); err != nil {
			logger.Crit("Server error", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.Server.ShutdownTimeout)
	defer cancel()
	if err = s.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}
	pusher.Stop()
	logger.Info("Stopped blocklist-client")
}

// newDecisionCache uses Redis when configured ("dev" starts an in-process
// instance), else an in-memory LRU.
func newDecisionCache(logger log.Logger, cfg config.Cache) (screening.DecisionCache, func(), error) {
	if cfg.RedisURL == "" {
		logger.Info("Using in-memory decision cache", "capacity", cfg.Capacity)
		cache, err := screening.NewMemoryCache(cfg.Capacity)
		return cache, func() {}, err
	}

	redisUrl := cfg.RedisURL
	if redisUrl == "dev" {
		logger.Info("Using integrated in-memory Redis instance")
		redisServer, err := miniredis.Run()
		if err != nil {
			return nil, nil, errors.Wrap(err, "start in-memory redis")
		}
		redisUrl = redisServer.Addr()
	}

	logger.Info("Connecting to redis", "url", redisUrl)
	cache, err := screening.NewRedisCache(redisUrl)
	if err != nil {
		return nil, nil, err
	}
	return cache, func() { cache.Close() }, nil
}

func getEnvAsStrOrDefault(key string, defaultValue string) string {
	ret := os.Getenv(key)
	if ret == "" {
		ret = defaultValue
	}
	return ret
}
