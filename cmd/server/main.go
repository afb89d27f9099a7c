package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rtolen/vairify-dev-sub001/internal/database"
	"github.com/rtolen/vairify-dev-sub001/internal/handlers"
	"github.com/rtolen/vairify-dev-sub001/internal/middleware"
	"github.com/rtolen/vairify-dev-sub001/internal/services"
	"github.com/rtolen/vairify-dev-sub001/pkg/cache"
	"github.com/rtolen/vairify-dev-sub001/pkg/clock"
	"github.com/rtolen/vairify-dev-sub001/pkg/config"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	// Initialize logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Server.Environment == "production" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().
		Str("env", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Msg("Starting escort service")

	postgresDB, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer postgresDB.Close()

	if err := postgresDB.RunMigrations(context.Background(), database.Schema); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	redisDB, err := database.NewRedisDB(&cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redisDB.Close()

	var responderCache *cache.Cache
	if cfg.Cache.Enabled {
		responderCache = cache.NewCache(redisDB.Client())
	}

	// Services
	clk := clock.Real()
	runner := services.NewRunner()
	vault := services.NewCodeVault(postgresDB, clk, bcrypt.DefaultCost)
	directory := services.NewGuardianDirectory(postgresDB, clk)
	notifier := services.NewNotifier(postgresDB, services.NewDispatchers(&cfg.Notify), redisDB, cfg.Notify.OperatorChannel, clk)
	responders := services.NewResponderService(&cfg.Responder, responderCache, cfg.Cache.ResponderTTL)
	lifecycle := services.NewLifecycle(postgresDB, redisDB, vault, notifier, responders, runner, clk, cfg.Escort)
	scheduler := services.NewScheduler(redisDB, postgresDB, lifecycle, clk, cfg.Escort, services.WithEscalationRedelivery(lifecycle))
	jwtService := services.NewJWTService(&cfg.JWT, redisDB)

	schedCtx, stopScheduler := context.WithCancel(context.Background())
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		scheduler.Run(schedCtx)
	}()

	router := newRouter(routeDeps{
		escort:    handlers.NewEscortHandler(lifecycle),
		guardians: handlers.NewGuardianHandler(vault, directory),
		operator:  handlers.NewOperatorHandler(lifecycle, jwtService),
		health: handlers.NewHealthHandler(map[string]handlers.Pinger{
			"postgres": postgresDB,
			"redis":    redisDB,
		}),
		auth:           jwtService,
		apiLimiter:     middleware.NewRateLimiter(redisDB, cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.WindowDuration),
		disarmLimiter:  middleware.NewRateLimiter(redisDB, cfg.RateLimit.DisarmAttempts, cfg.RateLimit.WindowDuration),
		allowedOrigins: cfg.CORS.AllowedOrigins,
		requestTimeout: 30 * time.Second,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("Server started")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop firing new deadlines, then let in-flight notifications finish.
	// Anything cut off here is still queued and fires after restart.
	stopScheduler()
	<-schedDone
	if err := runner.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Background tasks did not finish before shutdown")
	}

	log.Info().Msg("Server stopped gracefully")
}
