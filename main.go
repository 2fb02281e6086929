package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"notion-collab/collab"
	"notion-collab/config"
	"notion-collab/handlers/api/rooms"
	"notion-collab/handlers/auth"
	"notion-collab/handlers/websocket"
	"notion-collab/jobs"
	"notion-collab/metrics"
	authMiddleware "notion-collab/middleware"
	"notion-collab/stores"
	"notion-collab/telemetry"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

func setupRouter(cfg *config.Config, authn *auth.Authenticator, mgr *collab.Manager) *chi.Mux {
	r := chi.NewRouter()
	r.Use(authMiddleware.Tracing)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "X-CSRF-Token", "Origin", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]any{"status": "ok", "sessions": mgr.SessionCount()})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware.AuthJWT(authn))
		r.Get("/rooms", rooms.HandleListRooms(mgr))
		r.Post("/session/logout", rooms.HandleLogout(mgr))
	})

	return r
}

func setupAuth(ctx context.Context, cfg *config.Config, store stores.Store) (*auth.Authenticator, io.Closer, error) {
	var verifiers []auth.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		verifiers = append(verifiers, auth.NewJWTVerifier(cfg.Auth.JWTSecret))
	}
	if cfg.OIDCEnabled() {
		v, err := auth.NewOIDCVerifier(ctx, cfg.Auth.OIDCIssuerURL, cfg.Auth.OIDCClientID)
		if err != nil {
			return nil, nil, err
		}
		verifiers = append(verifiers, v)
	}

	var (
		revoked auth.RevocationList = auth.NewMemoryRevocationList()
		closer  io.Closer           = io.NopCloser(nil)
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		revoked = auth.NewRedisRevocationList(rdb)
		closer = rdb
		logrus.WithField("addr", cfg.RedisAddr).Info("Using redis token revocation list")
	}

	return auth.NewAuthenticator(store, revoked, verifiers...), closer, nil
}

func mintToken(ctx context.Context, cfg *config.Config, store stores.Store, userID string) error {
	if cfg.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is required to mint tokens")
	}
	user, err := store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	token, err := auth.NewSigner(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL).Issue(user)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func waitForShutdown(srv *http.Server, ioo *socketio.Server, mgr *collab.Manager, cleanup func(context.Context)) {
	signalC := make(chan os.Signal, 1)
	signal.Notify(signalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	s := <-signalC
	logrus.WithField("signal", s.String()).Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ioo.Close(nil)
	mgr.Shutdown()
	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Warn("HTTP server did not shut down cleanly")
	}
	cleanup(ctx)
}

func main() {
	listenAddress := flag.String("listen", "", "The address to listen on (overrides LISTEN_ADDR).")
	logLevel := flag.String("loglevel", "", "The log level (debug, info, warn, error).")
	mintFor := flag.String("mint-token", "", "Print a signed session token for the given user id and exit.")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}
	if *listenAddress != "" {
		cfg.ListenAddr = *listenAddress
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	ctx := context.Background()

	store, err := stores.GetStore(ctx, cfg.Storage)
	if err != nil {
		logrus.Fatalf("Failed to open store: %v", err)
	}
	if cfg.SeedFile != "" {
		if err := stores.LoadSeedFile(ctx, store, cfg.SeedFile); err != nil {
			logrus.Fatalf("Failed to load seed file: %v", err)
		}
	}

	if *mintFor != "" {
		if err := mintToken(ctx, cfg, store, *mintFor); err != nil {
			logrus.Fatalf("Failed to mint token: %v", err)
		}
		return
	}

	shutdownTracer := func(context.Context) error { return nil }
	if cfg.JaegerEndpoint != "" {
		if shutdownTracer, err = telemetry.InitJaeger("notion-collab", cfg.JaegerEndpoint); err != nil {
			logrus.WithError(err).Warn("Tracing disabled")
			shutdownTracer = func(context.Context) error { return nil }
		}
	}

	authn, revocationCloser, err := setupAuth(ctx, cfg, store)
	if err != nil {
		logrus.Fatalf("Failed to set up authentication: %v", err)
	}

	access := collab.NewAccessAuthority(store, store)
	registry := collab.NewRoomRegistry(store, access, collab.NewPresenceTracker())
	coordinator := collab.NewContentCoordinator(registry, store, access)
	mgr := collab.NewManager(authn, registry, coordinator, collab.Options{
		IdleTimeout: cfg.Collab.IdleTimeout,
	})

	reaper := jobs.NewReaperJob(mgr, cfg.Collab.ReapSchedule)
	if cfg.Collab.IdleTimeout > 0 {
		if err := reaper.Start(); err != nil {
			logrus.Fatalf("Failed to start idle reaper: %v", err)
		}
	}

	wsOpts := websocket.Options{
		AllowedOrigins:  cfg.AllowedOrigins,
		MaxMessageBytes: cfg.Collab.MaxMessageBytes,
		OutboxSize:      cfg.Collab.OutboxSize,
		PingInterval:    cfg.Collab.PingInterval,
	}
	r := setupRouter(cfg, authn, mgr)
	ioo := websocket.SetupSocketIO(mgr, wsOpts)
	r.Mount("/socket.io/", ioo.ServeHandler(nil))
	r.Handle("/ws", websocket.NewRawHandler(mgr, wsOpts))

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: r}
	logrus.WithFields(logrus.Fields{
		"addr":    cfg.ListenAddr,
		"storage": cfg.Storage.Type,
	}).Info("starting server")
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	logrus.Debug("Server is running in the background")
	waitForShutdown(srv, ioo, mgr, func(ctx context.Context) {
		reaper.Stop()
		if err := shutdownTracer(ctx); err != nil {
			logrus.WithError(err).Warn("Failed to flush traces")
		}
		if err := revocationCloser.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close redis client")
		}
		if c, ok := store.(io.Closer); ok {
			if err := c.Close(); err != nil {
				logrus.WithError(err).Warn("Failed to close store")
			}
		}
	})
}
