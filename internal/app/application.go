package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"presenceboard/internal/api"
	"presenceboard/internal/config"
	"presenceboard/internal/directory"
	"presenceboard/internal/dispatch"
	"presenceboard/internal/presence"
	"presenceboard/internal/websocket"
)

// Application coordinates all system components. The registries are owned
// here and handed to the handler and dispatcher by reference; nothing in
// the system reaches for ambient globals.
type Application struct {
	config     *config.Config
	logger     *zap.Logger
	presence   *presence.Registry
	registry   *websocket.Registry
	dispatcher *dispatch.Dispatcher
	apiServer  *api.Server
	httpServer *http.Server
}

// NewApplication wires the components in dependency order:
// Directory -> Registries -> Roster -> Dispatcher -> Handler -> API -> HTTP.
func NewApplication(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	directoryClient := directory.NewClient(directory.Config{
		BaseURL:        cfg.Directory.BaseURL,
		AnonKey:        cfg.Directory.AnonKey,
		ServiceKey:     cfg.Directory.ServiceKey,
		VerifyTimeout:  cfg.Directory.VerifyTimeout,
		ProfileTimeout: cfg.Directory.ProfileTimeout,
	}, logger)

	if !directoryClient.Configured() {
		// Non-fatal: the server runs, but authentication and roster
		// enrichment fail until the directory settings arrive.
		logger.Warn("directory service is not configured; set PRESENCEBOARD_DIRECTORY_URL and credentials")
	}

	presenceRegistry := presence.NewRegistry()
	connectionRegistry := websocket.NewRegistry()
	roster := presence.NewRoster(presenceRegistry, directoryClient, logger)
	dispatcher := dispatch.NewDispatcher(connectionRegistry, logger)

	wsHandler := websocket.NewHandler(
		connectionRegistry,
		presenceRegistry,
		roster,
		directoryClient,
		directoryClient,
		cfg.WebSocket,
		logger,
	)

	apiServer := api.NewServer(roster, dispatcher, connectionRegistry, wsHandler.HandleWebSocket, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		logger:     logger,
		presence:   presenceRegistry,
		registry:   connectionRegistry,
		dispatcher: dispatcher,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start begins serving. It returns once the HTTP listener is up or the
// startup failed.
func (app *Application) Start(ctx context.Context) error {
	app.logger.Info("starting presenceboard", zap.String("addr", app.httpServer.Addr))

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-time.After(100 * time.Millisecond):
		app.logger.Info("presenceboard started")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop gracefully shuts the application down. In-memory presence and
// connection state is ephemeral by design and simply discarded.
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down presenceboard")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.logger.Warn("HTTP server shutdown error", zap.Error(err))
	}

	app.logger.Info("presenceboard shutdown complete")
	return nil
}

// GetAddr returns the server address for external connections.
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}
