// cmd/server/main.go
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/agus-marmor/typeclash/internal/auth"
	"github.com/agus-marmor/typeclash/internal/cache"
	"github.com/agus-marmor/typeclash/internal/handlers"
	"github.com/agus-marmor/typeclash/internal/leaderboard"
	"github.com/agus-marmor/typeclash/internal/lobby"
	"github.com/agus-marmor/typeclash/internal/match"
	"github.com/agus-marmor/typeclash/internal/middleware"
	"github.com/agus-marmor/typeclash/internal/models"
	"github.com/agus-marmor/typeclash/internal/prompt"
	"github.com/agus-marmor/typeclash/internal/store"
)

const lobbySweepInterval = 10 * time.Minute

func main() {
	logger := logrus.New()
	if os.Getenv("DEBUG") != "" {
		logger.SetLevel(logrus.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	st, closeStore := buildStore(ctx, logger)
	defer closeStore()

	authSvc := buildAuth(logger)

	// The coordinator is the broadcaster for both services, and dispatches
	// client events back into them; build it first, attach after.
	coordinator := handlers.NewCoordinator(authSvc, st, logger)
	engine := match.NewEngine(st, coordinator, logger)
	lobbies := lobby.NewService(st, coordinator, engine, prompt.NewWordList(time.Now().UnixNano()), logger)
	coordinator.Attach(lobbies, engine)

	var boards *leaderboard.Service
	onFinished := func(m *models.Match) { lobbies.HandleMatchFinished(m) }
	rdb, err := cache.Connect(ctx)
	if err != nil {
		logger.WithError(err).Fatal("redis unreachable")
	}
	if rdb != nil {
		boards = leaderboard.New(rdb, logger)
		logger.Info("leaderboard enabled")
		onFinished = func(m *models.Match) {
			lobbies.HandleMatchFinished(m)
			boards.HandleMatchFinished(m)
		}
	}
	engine.SetFinishedHook(onFinished)

	go sweepLobbies(ctx, lobbies, logger)

	srv := &handlers.Server{
		Store:       st,
		Auth:        authSvc,
		Lobbies:     lobbies,
		Engine:      engine,
		Leaderboard: boards,
		Coordinator: coordinator,
		Log:         logger,
	}

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}

	server := &http.Server{
		Addr:        addr,
		Handler:     middleware.LogMiddleware(logger)(srv.Routes()),
		ReadTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.WithField("addr", addr).Info("listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.WithError(err).Fatal("server exited")
	}
}

// buildStore picks postgres when DATABASE_URL is set, the in-memory store
// otherwise.
func buildStore(ctx context.Context, logger *logrus.Logger) (store.Store, func()) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Info("DATABASE_URL not set, using in-memory store")
		return store.NewMemory(), func() {}
	}

	pg, err := store.NewPostgres(ctx, dsn)
	if err != nil {
		logger.WithError(err).Fatal("postgres connect failed")
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		logger.WithError(err).Fatal("postgres schema setup failed")
	}
	logger.Info("connected to postgres")
	return pg, pg.Close
}

// buildAuth loads the ed25519 keypair from JWT_PRIVATE_KEY_PATH /
// JWT_PUBLIC_KEY_PATH, or generates an ephemeral pair (tokens then die with
// the process, fine for development).
func buildAuth(logger *logrus.Logger) *auth.Service {
	expire := 24 * time.Hour
	if raw := os.Getenv("TOKEN_EXPIRE"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			logger.WithError(err).Fatal("invalid TOKEN_EXPIRE")
		}
		expire = d
	}

	priv, pub := os.Getenv("JWT_PRIVATE_KEY_PATH"), os.Getenv("JWT_PUBLIC_KEY_PATH")
	if priv != "" && pub != "" {
		svc, err := auth.NewServiceFromPath(priv, pub, expire)
		if err != nil {
			logger.WithError(err).Fatal("loading jwt keys failed")
		}
		return svc
	}

	logger.Warn("no JWT key paths configured, generating an ephemeral keypair")
	svc, err := auth.NewService(expire)
	if err != nil {
		logger.WithError(err).Fatal("generating jwt keys failed")
	}
	return svc
}

func sweepLobbies(ctx context.Context, lobbies *lobby.Service, logger *logrus.Logger) {
	ticker := time.NewTicker(lobbySweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := lobbies.Sweep(ctx)
			if err != nil {
				logger.WithError(err).Error("lobby sweep failed")
				continue
			}
			if n > 0 {
				logger.WithField("deleted", n).Info("swept expired lobbies")
			}
		}
	}
}
