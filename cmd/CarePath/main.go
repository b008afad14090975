package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/CarelineLabs/CarePath/internal/analytics"
	"github.com/CarelineLabs/CarePath/internal/api"
	"github.com/CarelineLabs/CarePath/internal/convo"
	"github.com/CarelineLabs/CarePath/internal/escalation"
	"github.com/CarelineLabs/CarePath/internal/flows"
	"github.com/CarelineLabs/CarePath/internal/genai"
	"github.com/CarelineLabs/CarePath/internal/messaging"
	"github.com/CarelineLabs/CarePath/internal/scheduler"
	"github.com/CarelineLabs/CarePath/internal/session"
	"github.com/CarelineLabs/CarePath/internal/store"
	"github.com/CarelineLabs/CarePath/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for CarePath state data
	DefaultStateDir = "/var/lib/carepath"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "carepath.db"
	// DefaultAPIAddr is the default API listen address
	DefaultAPIAddr = ":8080"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := run(flags); err != nil {
		slog.Error("CarePath failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("CarePath exited successfully")
}

// Config holds environment configuration
type Config struct {
	APIAddr          string
	SnapshotBackend  string
	CacheBackend     string
	StateDir         string
	SQLiteDSN        string
	PostgresDSN      string
	MongoURI         string
	MongoDB          string
	PostgresMaxConns int
	RedisAddr        string
	CacheTTL         time.Duration
	OpenAIKey        string
	OpenAIModel      string
	EscalationURL    string
	EscalationAPIKey string
	EscalationPoll   time.Duration
	NudgesEnabled    bool
	NudgeSchedule    string
	NudgeIdle        time.Duration
}

// Flags holds command line flag values
type Flags struct {
	apiAddr         *string
	snapshotBackend *string
	cacheBackend    *string
	stateDir        *string
	postgresDSN     *string
	mongoURI        *string
	redisAddr       *string
	openaiKey       *string
	escalationURL   *string
	nudgesEnabled   *bool

	config Config
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		APIAddr:          os.Getenv("CAREPATH_API_ADDR"),
		SnapshotBackend:  os.Getenv("CAREPATH_SNAPSHOT_BACKEND"),
		CacheBackend:     os.Getenv("CAREPATH_CACHE_BACKEND"),
		StateDir:         os.Getenv("CAREPATH_STATE_DIR"),
		SQLiteDSN:        os.Getenv("CAREPATH_SQLITE_DSN"),
		PostgresDSN:      os.Getenv("CAREPATH_POSTGRES_DSN"),
		MongoURI:         os.Getenv("CAREPATH_MONGO_URI"),
		MongoDB:          os.Getenv("CAREPATH_MONGO_DB"),
		PostgresMaxConns: util.ParseIntEnv("CAREPATH_POSTGRES_MAX_CONNS", 0),
		RedisAddr:        os.Getenv("CAREPATH_REDIS_ADDR"),
		CacheTTL:         util.ParseDurationEnv("CAREPATH_CACHE_TTL", 0),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      os.Getenv("CAREPATH_OPENAI_MODEL"),
		EscalationURL:    os.Getenv("CAREPATH_ESCALATION_URL"),
		EscalationAPIKey: os.Getenv("CAREPATH_ESCALATION_API_KEY"),
		EscalationPoll:   util.ParseDurationEnv("CAREPATH_ESCALATION_POLL_INTERVAL", escalation.DefaultPollInterval),
		NudgesEnabled:    util.ParseBoolEnv("CAREPATH_NUDGES_ENABLED", false),
		NudgeSchedule:    os.Getenv("CAREPATH_NUDGE_SCHEDULE"),
		NudgeIdle:        util.ParseDurationEnv("CAREPATH_NUDGE_IDLE_THRESHOLD", scheduler.DefaultIdleThreshold),
	}

	if config.APIAddr == "" {
		config.APIAddr = DefaultAPIAddr
	}
	if config.SnapshotBackend == "" {
		config.SnapshotBackend = "sqlite"
		slog.Debug("No CAREPATH_SNAPSHOT_BACKEND set, using default", "backend", config.SnapshotBackend)
	}
	if config.CacheBackend == "" {
		config.CacheBackend = "memory"
	}
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No CAREPATH_STATE_DIR set, using default", "state_dir", config.StateDir)
	}
	if config.SQLiteDSN == "" {
		config.SQLiteDSN = filepath.Join(config.StateDir, DefaultDBFileName)
	}
	if config.NudgeSchedule == "" {
		config.NudgeSchedule = scheduler.DefaultNudgeSchedule
	}
	return config
}

// parseCommandLineFlags parses flags, using environment values as defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		apiAddr:         flag.String("addr", config.APIAddr, "API listen address"),
		snapshotBackend: flag.String("snapshot-backend", config.SnapshotBackend, "snapshot store backend: sqlite, postgres, mongo, memory"),
		cacheBackend:    flag.String("cache-backend", config.CacheBackend, "cache backend: memory, redis"),
		stateDir:        flag.String("state-dir", config.StateDir, "state directory for SQLite data"),
		postgresDSN:     flag.String("postgres-dsn", config.PostgresDSN, "Postgres connection string"),
		mongoURI:        flag.String("mongo-uri", config.MongoURI, "MongoDB connection URI"),
		redisAddr:       flag.String("redis-addr", config.RedisAddr, "Redis address (host:port)"),
		openaiKey:       flag.String("openai-key", config.OpenAIKey, "OpenAI API key"),
		escalationURL:   flag.String("escalation-url", config.EscalationURL, "support backend base URL"),
		nudgesEnabled:   flag.Bool("nudges", config.NudgesEnabled, "enable re-engagement nudges"),
		config:          config,
	}
	flag.Parse()
	return flags
}

func buildSnapshotStore(ctx context.Context, flags Flags) (store.SnapshotStore, error) {
	switch *flags.snapshotBackend {
	case "postgres":
		return store.NewPostgresSnapshotStore(store.WithDSN(*flags.postgresDSN),
			store.WithMaxOpenConns(flags.config.PostgresMaxConns))
	case "mongo":
		return store.NewMongoSnapshotStore(ctx, store.WithDSN(*flags.mongoURI), store.WithDatabase(flags.config.MongoDB))
	case "memory":
		return store.NewMemorySnapshotStore(), nil
	default:
		dsn := flags.config.SQLiteDSN
		if *flags.stateDir != flags.config.StateDir {
			dsn = filepath.Join(*flags.stateDir, DefaultDBFileName)
		}
		return store.NewSQLiteSnapshotStore(store.WithDSN(dsn))
	}
}

func buildCacheStore(flags Flags) (store.CacheStore, error) {
	if *flags.cacheBackend == "redis" {
		return store.NewRedisCache(store.WithDSN(*flags.redisAddr), store.WithTTL(flags.config.CacheTTL))
	}
	return store.NewMemoryCache(), nil
}

func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	snapshots, err := buildSnapshotStore(ctx, flags)
	if err != nil {
		return err
	}
	defer snapshots.Close()

	cache, err := buildCacheStore(flags)
	if err != nil {
		return err
	}

	sessions := session.NewManager(cache, snapshots)
	sink := analytics.NewStoreSink(snapshots)

	genaiOpts := []genai.Option{genai.WithAPIKey(*flags.openaiKey)}
	if flags.config.OpenAIModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(flags.config.OpenAIModel))
	}
	ai, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return err
	}

	var escalations *escalation.Manager
	var escalator flows.Escalator
	var releaser api.EscalationReleaser
	if *flags.escalationURL != "" {
		escalations, err = escalation.NewManager(sessions,
			escalation.WithBaseURL(*flags.escalationURL),
			escalation.WithAPIKey(flags.config.EscalationAPIKey),
			escalation.WithPollInterval(flags.config.EscalationPoll))
		if err != nil {
			return err
		}
		defer escalations.Close()
		escalator = escalations
		releaser = escalations
	} else {
		slog.Warn("No CAREPATH_ESCALATION_URL set, human handoff disabled")
		escalator = unavailableEscalator{}
	}

	deps := flows.Deps{Analytics: sink, AI: ai, Escalations: escalator}
	controller := convo.NewController(deps)
	router := convo.NewRouter(controller.Handlers(), controller.HandleDefault, sink)

	var sched *scheduler.Scheduler
	if *flags.nudgesEnabled {
		messenger, err := messaging.NewTwilioService()
		if err != nil {
			slog.Warn("Nudges enabled but Twilio is not configured, skipping", "error", err)
		} else {
			sched = scheduler.NewScheduler()
			defer sched.Stop()
			nudger := scheduler.NewNudger(snapshots, messenger, flags.config.NudgeIdle)
			if err := sched.AddJob(flags.config.NudgeSchedule, func() {
				nudger.Run(context.Background())
			}); err != nil {
				return err
			}
			slog.Info("Re-engagement nudges scheduled", "schedule", flags.config.NudgeSchedule, "idle_threshold", flags.config.NudgeIdle)
		}
	}

	server := api.NewServer(sessions, router, controller, releaser, api.WithAddr(*flags.apiAddr))

	errCh := make(chan error, 1)
	go func() { errCh <- server.Run() }()

	slog.Info("CarePath started", "addr", *flags.apiAddr,
		"snapshot_backend", *flags.snapshotBackend, "cache_backend", *flags.cacheBackend)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("API shutdown failed", "error", err)
	}
	sessions.Flush()
	sink.Flush()
	return nil
}

// unavailableEscalator stands in when no support backend is configured. It
// always reports no agents, which the counselor flow turns into a polite
// fallback.
type unavailableEscalator struct{}

func (unavailableEscalator) Begin(ctx context.Context, sessionID, summary string) (escalation.Ticket, error) {
	return escalation.Ticket{}, escalation.ErrNotConfigured
}

func (unavailableEscalator) Relay(ctx context.Context, sessionID, text string) error {
	return escalation.ErrNotConfigured
}

func (unavailableEscalator) Release(sessionID string) {}
