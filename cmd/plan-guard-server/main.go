package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/triage-ai/palisade/services/plan_guard/internal/auth"
	"github.com/triage-ai/palisade/services/plan_guard/internal/collab"
	"github.com/triage-ai/palisade/services/plan_guard/internal/engine"
	"github.com/triage-ai/palisade/services/plan_guard/internal/engine/checks"
	"github.com/triage-ai/palisade/services/plan_guard/internal/generator"
	"github.com/triage-ai/palisade/services/plan_guard/internal/ledger"
	"github.com/triage-ai/palisade/services/plan_guard/internal/limits"
	"github.com/triage-ai/palisade/services/plan_guard/internal/orchestrator"
	"github.com/triage-ai/palisade/services/plan_guard/internal/registry"
	"github.com/triage-ai/palisade/services/plan_guard/internal/server"
	"github.com/triage-ai/palisade/services/plan_guard/internal/validate"
)

const healthService = "triage.plan_guard.v1.PlanGuardService"

func main() {
	// Optional .env for local development; real env vars win.
	_ = godotenv.Load()

	// Logger
	logger := mustBuildLogger(envOrDefault("PLAN_GUARD_LOG_LEVEL", "info"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	// Config from env
	port := envOrDefault("PLAN_GUARD_PORT", "50054")
	checkTimeoutMs := envOrDefaultInt("PLAN_GUARD_CHECK_TIMEOUT_MS", 5000)
	callTimeoutMs := envOrDefaultInt("PLAN_GUARD_CALL_TIMEOUT_MS", 2000)
	lawConcurrency := envOrDefaultInt("PLAN_GUARD_LAW_CONCURRENCY", engine.DefaultLawConcurrency)
	defaultMaxTrade := envOrDefaultDecimal("PLAN_GUARD_DEFAULT_MAX_TRADE", decimal.NewFromInt(10_000))
	defaultMaxPayment := envOrDefaultDecimal("PLAN_GUARD_DEFAULT_MAX_PAYMENT", decimal.Zero)
	limitCacheTTL := envOrDefaultInt("PLAN_GUARD_LIMIT_CACHE_TTL_S", 30)
	authCacheTTL := envOrDefaultInt("PLAN_GUARD_AUTH_CACHE_TTL_S", 30)
	postgresDSN := os.Getenv("POSTGRES_DSN")
	clickhouseDSN := os.Getenv("CLICKHOUSE_DSN")
	legalURL := os.Getenv("LEGAL_LOOKUP_URL")
	simulationURL := os.Getenv("SIMULATION_URL")
	geminiKey := os.Getenv("GEMINI_API_KEY")
	geminiModel := envOrDefault("GEMINI_MODEL", generator.DefaultModel)
	geminiRPS := envOrDefaultFloat("GEMINI_RPS", 1)

	checkTimeout := time.Duration(checkTimeoutMs) * time.Millisecond
	callTimeout := time.Duration(callTimeoutMs) * time.Millisecond

	logger.Info("starting plan guard server",
		zap.String("port", port),
		zap.Int("check_timeout_ms", checkTimeoutMs),
		zap.Int("call_timeout_ms", callTimeoutMs),
		zap.String("default_max_trade", defaultMaxTrade.String()),
	)

	// Postgres: shared by registry, limits and auth when configured
	var db *sql.DB
	if postgresDSN != "" {
		var err error
		db, err = sql.Open("pgx", postgresDSN)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		defer func() { _ = db.Close() }()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(context.Background()); err != nil {
			logger.Fatal("failed to ping postgres", zap.Error(err))
		}
		logger.Info("postgres connected")
	}

	// Tool registry: loaded once; immutable afterwards
	var reg *registry.Registry
	if db != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		loaded, err := registry.LoadFromPostgres(ctx, db, logger)
		cancel()
		if err != nil {
			logger.Fatal("failed to load tool contracts", zap.Error(err))
		}
		reg = loaded
	} else {
		builtin, err := registry.NewDefault()
		if err != nil {
			logger.Fatal("failed to build default tool catalog", zap.Error(err))
		}
		reg = builtin
		logger.Info("no POSTGRES_DSN set, using built-in tool catalog")
	}
	logger.Info("tool registry ready", zap.Strings("tools", reg.Names()))

	// Risk limits: Postgres with defaults for unknown users, otherwise static
	defaults := limits.RiskLimits{MaxTradeAmount: defaultMaxTrade, MaxPaymentAmount: defaultMaxPayment}
	var limitStore limits.Store
	if db != nil {
		limitStore = limits.NewPostgresStore(limits.PostgresStoreConfig{
			DB:       db,
			CacheTTL: time.Duration(limitCacheTTL) * time.Second,
			Defaults: defaults,
			Logger:   logger,
		})
	} else {
		limitStore = limits.NewStaticStore(defaultMaxTrade, defaultMaxPayment)
	}

	// Auth: Postgres if DSN provided, otherwise static
	var authenticator auth.Authenticator
	if db != nil {
		authenticator = auth.NewPostgresAuthenticator(auth.PostgresAuthConfig{
			DB:       db,
			CacheTTL: time.Duration(authCacheTTL) * time.Second,
			Logger:   logger,
		})
	} else {
		authenticator = auth.NewStaticAuthenticator()
		logger.Info("using static authenticator (no POSTGRES_DSN)")
	}

	// Collaborators: unconfigured ones make their checks resolve to unknown
	var lawLookup checks.LegalLookup = collab.Unavailable{}
	if legalURL != "" {
		lawLookup = collab.NewLegalClient(legalURL, callTimeout)
	} else {
		logger.Warn("no LEGAL_LOOKUP_URL set, law_ok will be unknown")
	}
	var simulator checks.Simulator = collab.Unavailable{}
	if simulationURL != "" {
		simulator = collab.NewSimulationClient(simulationURL, callTimeout)
	} else {
		logger.Warn("no SIMULATION_URL set, simulate_ok will be unknown for orders and payments")
	}

	eng := engine.NewEngine([]engine.Check{
		checks.NewLawCheck(lawLookup, callTimeout, lawConcurrency, logger),
		checks.NewSimulateCheck(simulator, reg, callTimeout, logger),
		checks.NewLimitsCheck(),
	}, limitStore, checkTimeout, logger)

	// Candidate generator
	var gen generator.Generator
	if geminiKey != "" {
		gg, err := generator.NewGeminiGenerator(context.Background(), generator.GeminiConfig{
			APIKey:  geminiKey,
			Model:   geminiModel,
			RPS:     geminiRPS,
			Catalog: reg.Contracts(),
			Logger:  logger,
		})
		if err != nil {
			logger.Fatal("failed to create gemini client", zap.Error(err))
		}
		gen = gg
		logger.Info("gemini generator ready", zap.String("model", geminiModel))
	} else {
		gen = generator.NewStatic()
		logger.Warn("no GEMINI_API_KEY set, every session will end with a rejection decision")
	}

	// Ledger: ClickHouse or log fallback
	var l ledger.Ledger
	if clickhouseDSN != "" {
		chLedger, err := ledger.NewClickHouseLedger(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log ledger",
				zap.Error(err),
			)
			l = ledger.NewLogLedger(logger)
		} else {
			l = chLedger
			logger.Info("clickhouse ledger connected")
		}
	} else {
		l = ledger.NewLogLedger(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log ledger")
	}
	defer l.Close()

	validator := validate.New(reg)
	orch := orchestrator.New(gen, validator, eng, l, logger)

	// gRPC server
	grpcServer := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     5 * time.Minute,
			MaxConnectionAge:      30 * time.Minute,
			MaxConnectionAgeGrace: 10 * time.Second,
			Time:                  30 * time.Second,
			Timeout:               5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.MaxRecvMsgSize(4*1024*1024),
		grpc.MaxSendMsgSize(4*1024*1024),
	)

	server.RegisterPlanGuardServiceServer(grpcServer, server.NewPlanGuardServer(orch, validator, authenticator, logger))

	// Register health service for ECS health checks
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)

	// Reflection lists the JSON-coded service by name; only health has descriptors.
	reflection.Register(grpcServer)

	// Listen
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("port", port), zap.Error(err))
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		healthServer.SetServingStatus(healthService, healthpb.HealthCheckResponse_NOT_SERVING)
		grpcServer.GracefulStop()
	}()

	logger.Info("plan guard server listening", zap.String("addr", lis.Addr().String()))
	if err := grpcServer.Serve(lis); err != nil {
		logger.Fatal("grpc server failed", zap.Error(err))
	}
	logger.Info("server stopped", zap.Uint64("ledger_failures_total", l.Failures()))
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envOrDefaultFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envOrDefaultDecimal(key string, defaultVal decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return defaultVal
}
