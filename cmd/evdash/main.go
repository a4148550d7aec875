package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"evdash/internal/archive"
	"evdash/internal/authapi"
	"evdash/internal/client"
	"evdash/internal/config"
	"evdash/internal/credential"
	"evdash/internal/logging"
	"evdash/internal/things"
)

const loginRetryDelay = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadClient()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	store, closeStore, err := newStore(cfg, logger)
	if err != nil {
		logger.Fatal("failed to init credential store", zap.Error(err))
	}
	defer closeStore()

	var onSessions func([]things.Thing)
	if cfg.Archive.PostgresDSN != "" {
		pg, err := archive.NewPostgres(cfg.Archive.PostgresDSN, logger)
		if err != nil {
			logger.Fatal("failed to init session archive", zap.Error(err))
		}
		defer pg.Close()
		onSessions = pg.SaveSessions
	}

	auth := authapi.NewClient(cfg.Backend.BaseURL, &http.Client{Timeout: cfg.HTTPTimeout()})

	var mgr *client.Manager
	mgr = client.NewManager(client.Options{
		WebsocketURL:   cfg.Backend.WebsocketURL,
		ReconnectDelay: cfg.ReconnectDelay(),
		RefreshLead:    cfg.RefreshLead(),
		Auth:           auth,
		Store:          store,
		Logger:         logger,
		OnSessions:     onSessions,
		OnStateChange: func(state client.State) {
			logger.Info("connection state changed", zap.String("state", string(state)))
		},
		OnLoginRequired: func(reason string) {
			logger.Info("login required", zap.String("reason", reason))
			if reason == "loggedOut" || cfg.Login.Username == "" {
				return
			}
			// Headless daemon: retry the configured account after a pause so
			// a rejected credential does not hammer the backend.
			time.Sleep(loginRetryDelay)
			if ctx.Err() != nil {
				return
			}
			if err := mgr.Login(ctx, cfg.Login.Username, cfg.Login.Password); err != nil {
				logger.Warn("login failed", zap.Error(err))
			}
		},
	})

	if !mgr.Restore() {
		if cfg.Login.Username != "" {
			if err := mgr.Login(ctx, cfg.Login.Username, cfg.Login.Password); err != nil {
				logger.Fatal("initial login failed", zap.Error(err))
			}
		} else {
			logger.Info("no stored session and no configured account, awaiting login")
		}
	}

	<-ctx.Done()
	mgr.Close()
	logger.Info("evdash stopped")
}

func newStore(cfg *config.Client, logger *zap.Logger) (credential.Store, func(), error) {
	if cfg.Session.RedisAddr != "" {
		store, err := credential.NewRedisStore(cfg.Session.RedisAddr, cfg.Session.RedisPassword, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	}
	return credential.NewFileStore(cfg.Session.FilePath, logger), func() {}, nil
}
