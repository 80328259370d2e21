package flowstore

import (
	"context"
	"time"

	"github.com/codermrrob/loginbridge/internal/log"
)

// CleanupManager handles periodic cleanup of expired flows
type CleanupManager struct {
	store    *Store
	interval time.Duration
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(store *Store, interval time.Duration) *CleanupManager {
	return &CleanupManager{
		store:    store,
		interval: interval,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the cleanup loop in a goroutine
func (cm *CleanupManager) Start(ctx context.Context) {
	log.LogInfoWithFields("cleanup", "Starting flow cleanup manager", map[string]any{
		"interval": cm.interval.String(),
	})

	go cm.run(ctx)
}

// Stop gracefully stops the cleanup loop
func (cm *CleanupManager) Stop() {
	close(cm.stopChan)
	<-cm.doneChan
	log.Logf("Flow cleanup manager stopped")
}

func (cm *CleanupManager) run(ctx context.Context) {
	defer close(cm.doneChan)

	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cm.cleanup()
		case <-cm.stopChan:
			// Final cleanup on shutdown
			cm.cleanup()
			return
		case <-ctx.Done():
			return
		}
	}
}

func (cm *CleanupManager) cleanup() {
	if count := cm.store.CleanupExpired(); count > 0 {
		log.LogInfoWithFields("cleanup", "Cleaned up expired flows", map[string]any{
			"count": count,
		})
	}
}
