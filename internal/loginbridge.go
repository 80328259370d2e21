package internal

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/codermrrob/loginbridge/internal/backend"
	"github.com/codermrrob/loginbridge/internal/config"
	"github.com/codermrrob/loginbridge/internal/crypto"
	"github.com/codermrrob/loginbridge/internal/flowstore"
	"github.com/codermrrob/loginbridge/internal/identity"
	"github.com/codermrrob/loginbridge/internal/log"
	"github.com/codermrrob/loginbridge/internal/server"
)

const cleanupInterval = time.Minute

// Bridge is the complete login bridge application.
type Bridge struct {
	config     config.Config
	httpServer *server.HTTPServer
	cleanup    *flowstore.CleanupManager
}

// NewBridge creates the login bridge application with all dependencies built.
func NewBridge(ctx context.Context, cfg config.Config) (*Bridge, error) {
	log.LogInfoWithFields("loginbridge", "Building login bridge application", map[string]any{
		"baseURL": cfg.Bridge.BaseURL,
		"backend": cfg.Bridge.Backend.BaseURL,
	})

	signer := crypto.NewMarkerSigner([]byte(cfg.Bridge.MarkerSecret), cfg.Bridge.FlowTTL.Std())

	scripts := identity.NewScriptCache(cfg.Bridge.Google.ScriptURL)
	// Warm the script cache so the first launch doesn't pay the fetch.
	// Failure is not fatal: the cache retries on demand.
	if err := scripts.Load(ctx); err != nil {
		log.LogWarnWithFields("loginbridge", "Provider script warm-up failed, will retry on demand", map[string]any{
			"error": err.Error(),
		})
	}

	backendClient := backend.NewClient(cfg.Bridge.Backend.BaseURL, string(cfg.Bridge.Backend.SharedSecret))

	store := flowstore.NewStore(cfg.Bridge.FlowTTL.Std())
	cleanup := flowstore.NewCleanupManager(store, cleanupInterval)

	handlers := server.NewHandlers(cfg.Bridge, store, signer, scripts, backendClient)
	httpServer := server.NewHTTPServer(handlers.Routes(), cfg.Bridge.Addr)

	return &Bridge{
		config:     cfg,
		httpServer: httpServer,
		cleanup:    cleanup,
	}, nil
}

// Run starts the application and blocks until shutdown.
func (b *Bridge) Run() error {
	log.LogInfoWithFields("loginbridge", "Starting login bridge", map[string]any{
		"addr": b.config.Bridge.Addr,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b.cleanup.Start(ctx)

	errChan := make(chan error, 1)
	go func() {
		if err := b.httpServer.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var shutdownReason string
	select {
	case sig := <-sigChan:
		shutdownReason = fmt.Sprintf("signal %v", sig)
		log.LogInfoWithFields("loginbridge", "Received shutdown signal", map[string]any{
			"signal": sig.String(),
		})
	case err := <-errChan:
		shutdownReason = fmt.Sprintf("error: %v", err)
		log.LogErrorWithFields("loginbridge", "Shutting down due to error", map[string]any{
			"error": err.Error(),
		})
	}

	log.LogInfoWithFields("loginbridge", "Starting graceful shutdown", map[string]any{
		"reason":  shutdownReason,
		"timeout": "30s",
	})
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := b.httpServer.Stop(shutdownCtx); err != nil {
		log.LogErrorWithFields("loginbridge", "HTTP server shutdown error", map[string]any{
			"error": err.Error(),
		})
		return err
	}

	b.cleanup.Stop()

	log.LogInfoWithFields("loginbridge", "Application shutdown complete", map[string]any{
		"reason": shutdownReason,
	})
	return nil
}
