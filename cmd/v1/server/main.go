package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/dicehall/dicehall/internal/v1/auth"
	"github.com/dicehall/dicehall/internal/v1/config"
	"github.com/dicehall/dicehall/internal/v1/hub"
	"github.com/dicehall/dicehall/internal/v1/lobby"
	"github.com/dicehall/dicehall/internal/v1/logging"
	"github.com/dicehall/dicehall/internal/v1/ratelimit"
	"github.com/dicehall/dicehall/internal/v1/store"
)

func main() {
	// Load .env for local development. Try multiple paths to handle
	// different ways of running the binary.
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			envLoaded = true
			break
		}
	}

	ctx := context.Background()
	if !envLoaded {
		logging.Warn(ctx, "No .env file found, relying on environment variables")
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		logging.Error(ctx, "Environment validation failed", zap.Error(err))
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		logging.Error(ctx, "Failed to initialize logger", zap.Error(err))
		os.Exit(1)
	}
	if cfg.DevelopmentMode {
		logging.Info(ctx, "Running in DEVELOPMENT MODE")
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// --- Auth ---
	var verifier auth.TokenVerifier
	skipAuth := cfg.SkipAuth
	if !skipAuth && cfg.DevelopmentMode && cfg.SupabaseURL == "" && cfg.JWTSecret == "" {
		logging.Warn(ctx, "Development mode with no auth credentials, auto-enabling SKIP_AUTH")
		skipAuth = true
	}
	if skipAuth {
		logging.Warn(ctx, "Authentication DISABLED, do not use in production")
		verifier = &auth.MockVerifier{}
	} else {
		v, err := auth.NewVerifier(ctx, cfg.SupabaseURL, cfg.JWTSecret, cfg.AuthAudience)
		if err != nil {
			logging.Error(ctx, "Failed to create auth verifier", zap.Error(err))
			os.Exit(1)
		}
		verifier = v
		logging.Info(ctx, "Auth verifier initialized", zap.String("project_url", cfg.SupabaseURL))
	}

	// --- Storage ---
	// Without Redis the server runs fully in memory: rooms work but nothing
	// survives a restart.
	var st *store.Store
	if cfg.RedisEnabled {
		st, err = store.NewStore(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logging.Error(ctx, "Failed to connect to Redis, running ephemeral", zap.Error(err))
			st = nil
		}
	} else {
		logging.Info(ctx, "Redis disabled, running ephemeral single-instance mode")
	}

	// --- Rate limiters ---
	// Redis-backed when storage is up so limits hold across replicas.
	newLimiter := func(scope, rate string) *ratelimit.Limiter {
		var l *ratelimit.Limiter
		var err error
		if st != nil && st.Client() != nil {
			l, err = ratelimit.NewWithRedis(scope, rate, st.Client())
		} else {
			l, err = ratelimit.New(scope, rate)
		}
		if err != nil {
			logging.Error(ctx, "Failed to create rate limiter",
				zap.String("scope", scope), zap.Error(err))
			os.Exit(1)
		}
		return l
	}
	connLimit := newLimiter("ws_connect", cfg.RateLimitWsIP)
	chatLimit := newLimiter("lobby_chat", cfg.RateLimitLobbyChat)

	// --- Actors ---
	lb := lobby.New(st.Actor("lobby"), chatLimit)

	allowedOrigins := auth.GetAllowedOriginsFromEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"})
	h := hub.NewHub(st, verifier, lb, connLimit, allowedOrigins, cfg.DevelopmentMode)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: h.Router(),
	}

	go func() {
		logging.Info(ctx, "Game server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(ctx, "Failed to run server", zap.Error(err))
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := h.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "Error during hub shutdown", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "Server forced to shutdown", zap.Error(err))
	}
	if st != nil {
		if err := st.Close(); err != nil {
			logging.Error(ctx, "Failed to close Redis connection", zap.Error(err))
		}
	}

	logging.Info(ctx, "Server exiting")
}
