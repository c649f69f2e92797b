package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	echoapi "github.com/quorumid/stepauth/api/echo"
	"github.com/quorumid/stepauth/config"
	"github.com/quorumid/stepauth/events"
	"github.com/quorumid/stepauth/internal/attempts"
	"github.com/quorumid/stepauth/internal/auth"
	"github.com/quorumid/stepauth/internal/crypto"
	"github.com/quorumid/stepauth/mongodb"
	"github.com/quorumid/stepauth/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	initLogger(cfg)
	log.Info().
		Str("http_port", cfg.HTTPPort).
		Str("mongo_db", cfg.MongoDBName).
		Str("event_topic", cfg.EventTopic).
		Msg("Starting stepauth server")

	ctx := context.Background()
	if err := mongodb.InitMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize MongoDB connection")
	}
	db := mongodb.GetDB()

	tokenRepo, err := mongodb.NewTokenRepositoryMongo(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize token repository")
	}
	sessionRepo, err := mongodb.NewSessionRepositoryMongo(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize session repository")
	}
	identityRepo, err := mongodb.NewIdentityRepositoryMongo(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize identity repository")
	}

	redisClient := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		// The event broadcast is best-effort; a dead Redis degrades the admin
		// feed but must not block authentication.
		log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("Redis unreachable at startup, event broadcast degraded")
	}

	stream := events.NewChannelSink(cfg.EventBufferSize)
	dispatcher := events.NewDispatcher(cfg.EventBufferSize,
		events.NewRedisSink(redisClient, cfg.EventTopic),
		stream,
		events.LogSink{},
	)
	defer dispatcher.Close()

	fieldCipher, err := buildFieldCipher(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize field cipher")
	}

	tracker := attempts.NewTracker(
		time.Duration(cfg.AttemptWindowMin)*time.Minute,
		int64(cfg.AttemptThreshold),
		dispatcher,
	)
	defer tracker.Stop()

	tokenSvc := services.NewTokenService(tokenRepo, dispatcher)
	sessionSvc := services.NewSessionService(sessionRepo, dispatcher, fieldCipher)
	hasher := auth.NewBcryptPasswordHasher(cfg.BcryptCost)

	coordinator := services.NewCoordinator(tokenSvc, sessionSvc, identityRepo, hasher, tracker, dispatcher, services.LifecycleConfig{
		TokenTTL:      time.Duration(cfg.TokenTTLSeconds) * time.Second,
		SessionTTL:    time.Duration(cfg.SessionTTLMinutes) * time.Minute,
		SweepInterval: time.Duration(cfg.SweepIntervalMin) * time.Minute,
		PurgeInterval: time.Duration(cfg.PurgeIntervalMin) * time.Minute,
		PurgeEnabled:  cfg.PurgeEnabled,
	})
	coordinator.Start()
	defer coordinator.Stop()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	echoapi.NewAPI(coordinator, tokenSvc, sessionSvc, stream).RegisterRoutes(e)

	go func() {
		if err := e.Start(":" + cfg.HTTPPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if err := mongodb.Disconnect(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("MongoDB disconnect failed")
	}
	if err := redisClient.Close(); err != nil {
		log.Error().Err(err).Msg("Redis close failed")
	}
	log.Info().Msg("Server stopped")
}

func initLogger(cfg *config.ServerConfig) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
		log.Warn().Str("configured_log_level", cfg.LogLevel).Msg("Invalid LOG_LEVEL configured, defaulting to 'info'")
	}
	zerolog.SetGlobalLevel(level)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
}

func buildFieldCipher(cfg *config.ServerConfig) (crypto.FieldCipher, error) {
	key, err := cfg.FieldCipherKey()
	if err != nil {
		return nil, err
	}
	if key == nil {
		log.Warn().Msg("FIELD_CIPHER_KEY not configured, session origin addresses stored in plaintext")
		return crypto.NoOpFieldCipher{}, nil
	}
	return crypto.NewAESFieldCipher(key)
}
