package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"evdash/internal/config"
)

const simulationInterval = 5 * time.Second

// App wires the dev backend: auth HTTP endpoints on one port, the realtime
// websocket channel on another, and a small telemetry simulation.
type App struct {
	cfg    *config.Server
	logger *zap.Logger
	hub    *Hub
	store  *Store
	api    *http.Server
	ws     *http.Server
}

// New constructs the application graph.
func New(cfg *config.Server, logger *zap.Logger) (*App, error) {
	users, err := NewUsers(cfg.Users)
	if err != nil {
		return nil, err
	}

	tokens := NewTokenService(cfg.JWT.Secret, cfg.TokenTTL())
	store := NewStore()
	hub := NewHub(tokens, store, logger)

	wsMux := http.NewServeMux()
	wsMux.HandleFunc("/", hub.HandleWS)

	return &App{
		cfg:    cfg,
		logger: logger,
		hub:    hub,
		store:  store,
		api: &http.Server{
			Addr:         cfg.HTTPAddress(),
			Handler:      NewAPIRouter(users, tokens, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		ws: &http.Server{
			Addr:    cfg.WebsocketAddress(),
			Handler: wsMux,
		},
	}, nil
}

// Run serves both listeners until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		a.logger.Info("starting auth api", zap.String("addr", a.api.Addr))
		errCh <- a.api.ListenAndServe()
	}()
	go func() {
		a.logger.Info("starting realtime channel", zap.String("addr", a.ws.Addr))
		errCh <- a.ws.ListenAndServe()
	}()
	go a.simulate(ctx)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.api.Shutdown(shutdownCtx)
		_ = a.ws.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// simulate periodically jitters a charging charger and pushes the change.
func (a *App) simulate(ctx context.Context) {
	ticker := time.NewTicker(simulationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if charger := a.store.JitterCharger(); charger != nil {
				a.hub.Broadcast("chargerChanged", charger)
			}
		}
	}
}
