package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/avvvet/taxline-intent/internal/calllog"
	"github.com/avvvet/taxline-intent/internal/config"
	"github.com/avvvet/taxline-intent/internal/dialogue"
	"github.com/avvvet/taxline-intent/internal/handlers"
	"github.com/avvvet/taxline-intent/internal/prompts"
	"github.com/avvvet/taxline-intent/internal/script"
	"github.com/avvvet/taxline-intent/internal/session"
	"github.com/avvvet/taxline-intent/internal/transcript"
	"github.com/avvvet/taxline-intent/internal/transport"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load .env file if it exists (for development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("❌ Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("❌ Service failed", zap.Error(err))
	}
	logger.Info("👋 Taxline Intent Service stopped")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("🚀 Starting Taxline Intent Service...",
		zap.String("service", cfg.ServiceName),
		zap.String("nats_url", cfg.NatsURL),
		zap.String("http_addr", cfg.HTTPAddr))

	s, err := loadScript(cfg)
	if err != nil {
		return err
	}
	logger.Info("📜 Script loaded",
		zap.String("name", s.Name),
		zap.Int("states", len(s.States)),
		zap.Int("intents", len(s.Intents)),
		zap.Int("loop_threshold", s.LoopGuard.Threshold),
		zap.Int("silence_limit", s.LoopGuard.SilenceLimit))

	resolver, err := prompts.NewResolver(s)
	if err != nil {
		return err
	}

	var store session.Store
	if cfg.RedisURL != "" {
		logger.Info("🔌 Connecting to Redis...", zap.String("url", cfg.RedisURL))
		redisStore, err := session.NewRedisStore(cfg.RedisURL, cfg.SessionTTL)
		if err != nil {
			return err
		}
		defer redisStore.Close()
		store = redisStore
		logger.Info("✅ Redis connected")
	} else {
		store = session.NewMemoryStore(cfg.SessionCapacity, cfg.SessionTTL, logger.Named("sessions"))
		logger.Info("🧠 Using in-memory session store", zap.Int("capacity", cfg.SessionCapacity))
	}

	var calls calllog.Sink = calllog.Nop{}
	if cfg.CallLogPath != "" {
		sqliteStore, err := calllog.NewSQLiteStore(cfg.CallLogPath, logger.Named("calllog"))
		if err != nil {
			return err
		}
		defer sqliteStore.Close()
		calls = sqliteStore
		logger.Info("🗂️ Call log enabled", zap.String("path", cfg.CallLogPath))
	}

	agent := dialogue.NewAgent(s, store, logger.Named("agent"))
	recorder := transcript.NewRecorder(cfg.SessionCapacity, cfg.SessionTTL, logger.Named("transcript"))
	turnHandler := handlers.NewTurnHandler(agent, resolver, recorder, calls, logger.Named("handler"))
	logger.Info("✅ Turn handler initialized")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	if cfg.NatsEnabled {
		logger.Info("📡 Connecting to NATS...")
		natsTransport, err := transport.NewNATSTransport(cfg, turnHandler, logger.Named("nats"))
		if err != nil {
			return err
		}
		if err := natsTransport.Start(); err != nil {
			natsTransport.Close()
			return err
		}
		g.Go(func() error {
			<-ctx.Done()
			return natsTransport.Close()
		})
	}

	if cfg.HTTPEnabled {
		gin.SetMode(gin.ReleaseMode)
		httpTransport := transport.NewHTTPTransport(cfg, turnHandler, logger.Named("http"))
		g.Go(httpTransport.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpTransport.Close(shutdownCtx)
		})
	}

	logger.Info("✅ Taxline Intent Service is running!",
		zap.Bool("nats", cfg.NatsEnabled),
		zap.Bool("http", cfg.HTTPEnabled))

	<-ctx.Done()
	logger.Info("🔄 Shutting down gracefully...",
		zap.Int("open_transcripts", recorder.ActiveSessions()))
	return g.Wait()
}

// loadScript reads SCRIPT_PATH when set, else the bundled variant, then
// applies the loop guard overrides from the environment.
func loadScript(cfg *config.Config) (*script.Script, error) {
	var (
		s   *script.Script
		err error
	)
	if cfg.ScriptPath != "" {
		s, err = script.Load(cfg.ScriptPath)
	} else {
		s, err = script.Bundled(cfg.ScriptVariant)
	}
	if err != nil {
		return nil, err
	}
	if err := s.ApplyOverrides(cfg.LoopThreshold, cfg.LoopAllow, cfg.SilenceLimit); err != nil {
		return nil, err
	}
	return s, nil
}

func newLogger(level, format string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg.Level = lvl
	return zcfg.Build()
}
