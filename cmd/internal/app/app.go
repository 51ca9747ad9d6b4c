// Package app wires the chat server runtime: config, logging, storage selection,
// push delivery, HTTP routes and the WebSocket gateway.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"jobchat/cmd/internal/auth"
	"jobchat/cmd/internal/chat"
	"jobchat/cmd/internal/presence"
	"jobchat/cmd/internal/push"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

const (
	setupTimeout    = 15 * time.Second
	shutdownTimeout = 10 * time.Second
)

// App is the chat server runtime: it owns the HTTP server, storage handles and the push worker.
type App struct {
	cfg Config
	log Logger

	dbPool   *pgxpool.Pool
	durable  bool
	presence *presence.RedisLastSeen
	worker   *push.Worker
	metrics  *prometheus.Registry

	ws  *chat.WSGateway
	api *chat.APIHandler

	closers []func() error
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()

	a := &App{cfg: cfg, log: log}
	if err := a.wire(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg, log := a.cfg, a.log

	a.metrics = prometheus.NewRegistry()
	a.metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := chat.NewMetrics(a.metrics)

	st, err := a.newStorage(ctx)
	if err != nil {
		return err
	}

	lastSeen := st.lastSeen
	if cfg.RedisURL != "" {
		rls, err := presence.Open(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, rls.Close)
		a.presence = rls
		lastSeen = rls
		log.Info("presence.redis.enabled")
	}

	notifier, err := a.newNotifier(ctx)
	if err != nil {
		return err
	}

	var verifier chat.TokenVerifier
	if cfg.AuthPublicKeyHex != "" {
		v, err := auth.NewVerifier(cfg.AuthPublicKeyHex, cfg.AuthIssuer)
		if err != nil {
			return err
		}
		verifier = v
		log.Info("auth.paseto.enabled", "issuer", cfg.AuthIssuer)
	} else {
		log.Warn("auth.disabled", "hint", "caller user ids are trusted as sent")
	}

	svc, err := chat.NewService(chat.Deps{
		Log:             log,
		Directory:       st.dir,
		Store:           st.store,
		LastSeen:        lastSeen,
		Notifier:        notifier,
		Metrics:         metrics,
		DeliveryTimeout: cfg.DeliveryTimeout,
	})
	if err != nil {
		return err
	}

	a.ws = chat.NewWSGateway(log, svc, verifier, cfg.WS)
	a.api = chat.NewAPIHandler(log, svc, verifier)
	return nil
}

// Run starts the HTTP server (and the push worker when queued delivery is on) and blocks
// until context cancellation or a fatal error from either.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	mux := http.NewServeMux()
	registerHTTP(mux, httpDeps{
		log:      a.log,
		cfg:      a.cfg,
		dbPool:   a.dbPool,
		durable:  a.durable,
		presence: a.presence,
		metrics:  a.metrics,
		ws:       a.ws,
		api:      a.api,
	})

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(WithSecurityHeaders(WithCORS(mux, a.cfg, a.log)), a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"http_url", base,
		"ws_url", wsBaseURL(base)+"/ws/chat/{booking_id}/{user_id}",
		"durable", a.durable,
		"push_provider", a.cfg.PushProvider,
		"push_async", a.worker != nil,
	)
	if a.cfg.DevSeed {
		demo := demoConversation()
		a.log.Info("server.dev_seed",
			"booking_id", demo.ID,
			"client_ws_url", wsChatURL(base, demo.ID, demo.Client.UserID),
			"provider_ws_url", wsChatURL(base, demo.ID, demo.Provider.UserID),
		)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		errCh := make(chan error, 1)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		select {
		case <-gctx.Done():
			a.log.Info("server.stop", "reason", "context_done")
		case err := <-errCh:
			a.log.Error("server.fail", "err", err)
			return err
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	if a.worker != nil {
		g.Go(func() error { return a.worker.Run(gctx) })
	}

	err := g.Wait()
	a.log.Info("server.stopped")
	return err
}

// close releases resources in reverse acquisition order.
func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Error("app.close.fail", "err", err)
		}
	}
	a.closers = nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

type storage struct {
	store    chat.MessageStore
	dir      chat.Directory
	lastSeen chat.LastSeenStore
}

// newStorage picks Postgres, then SQLite, then memory for messages. The directory is
// Postgres-backed whenever a database is configured.
func (a *App) newStorage(ctx context.Context) (storage, error) {
	cfg, log := a.cfg, a.log

	if cfg.DatabaseURL != "" {
		pool, err := NewDBPool(ctx, cfg, log)
		if err != nil {
			return storage{}, err
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		a.dbPool = pool

		store, err := chat.NewPostgresStore(pool, chat.WithSchema(cfg.DBSchema))
		if err != nil {
			return storage{}, err
		}
		if cfg.DBEnsureSchema {
			if err := store.EnsureSchema(ctx); err != nil {
				return storage{}, err
			}
		}
		dir, err := chat.NewPostgresDirectory(pool, chat.WithSchema(cfg.DirectorySchema))
		if err != nil {
			return storage{}, err
		}

		a.durable = true
		log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema, "directory_schema", cfg.DirectorySchema)
		return storage{store: store, dir: dir, lastSeen: dir}, nil
	}

	dir := newDevDirectory(cfg, log)

	if cfg.SQLitePath != "" {
		store, err := chat.NewSQLiteStore(cfg.SQLitePath, log)
		if err != nil {
			return storage{}, err
		}
		a.closers = append(a.closers, store.Close)
		a.durable = true
		log.Info("db.enabled.sqlite_store", "path", cfg.SQLitePath)
		return storage{store: store, dir: dir, lastSeen: chat.NewMemoryLastSeen()}, nil
	}

	log.Info("db.disabled.inmemory_store")
	return storage{store: chat.NewInMemoryStore(), dir: dir, lastSeen: chat.NewMemoryLastSeen()}, nil
}

// newDevDirectory returns the in-memory directory used without Postgres.
func newDevDirectory(cfg Config, log Logger) *chat.MemoryDirectory {
	dir := chat.NewMemoryDirectory()
	if !cfg.DevSeed {
		log.Warn("directory.inmemory.empty", "hint", "set CHAT_DEV_SEED=true or CHAT_DATABASE_URL")
		return dir
	}
	dir.Put(demoConversation())
	log.Info("directory.inmemory.seeded", "booking_id", demoBookingID)
	return dir
}

const demoBookingID = "demo"

func demoConversation() chat.Conversation {
	return chat.Conversation{
		ID: demoBookingID,
		Client: chat.Participant{
			UserID:  "demo-client",
			Role:    chat.RoleClient,
			Profile: chat.Profile{DisplayName: "Demo Client"},
		},
		Provider: chat.Participant{
			UserID:  "demo-provider",
			Role:    chat.RoleProvider,
			Profile: chat.Profile{DisplayName: "Demo Provider"},
		},
	}
}

// newNotifier builds the push fallback. With CHAT_PUSH_ASYNC the service enqueues to asynq
// and a worker in this process performs the FCM send.
func (a *App) newNotifier(ctx context.Context) (chat.Notifier, error) {
	cfg, log := a.cfg, a.log

	if cfg.PushProvider != PushProviderFCM {
		log.Info("push.disabled")
		return nil, nil
	}

	fcm, err := push.NewFCMNotifier(ctx, log, push.FCMConfig{
		ProjectID:       cfg.FirebaseProjectID,
		CredentialsFile: cfg.FirebaseCredsFile,
		CredentialsJSON: cfg.FirebaseCredsJSON,
	})
	if err != nil {
		return nil, err
	}
	if !cfg.PushAsync {
		log.Info("push.fcm.enabled", "mode", "inline")
		return fcm, nil
	}

	queue, err := push.NewQueuedNotifier(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, queue.Close)

	worker, err := push.NewWorker(log, cfg.RedisURL, fcm, cfg.PushConcurrency)
	if err != nil {
		return nil, err
	}
	a.worker = worker

	log.Info("push.fcm.enabled", "mode", "queued", "concurrency", cfg.PushConcurrency)
	return queue, nil
}
