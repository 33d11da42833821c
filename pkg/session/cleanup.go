package session

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultRetentionIdle = 30 * 24 * time.Hour
	DefaultMaxMessages   = 200
)

// Cleanup prunes stale sessions on a daily cadence: every session is
// trimmed to maxMessages, and sessions idle past the retention window are
// deleted outright.
type Cleanup struct {
	manager     *Manager
	retention   time.Duration
	maxMessages int
	logger      zerolog.Logger
	stopCh      chan struct{}
	running     bool
}

// NewCleanup creates a session cleanup service
func NewCleanup(manager *Manager, retention time.Duration, maxMessages int, logger zerolog.Logger) *Cleanup {
	if retention == 0 {
		retention = DefaultRetentionIdle
	}
	if maxMessages == 0 {
		maxMessages = DefaultMaxMessages
	}

	return &Cleanup{
		manager:     manager,
		retention:   retention,
		maxMessages: maxMessages,
		logger:      logger.With().Str("component", "session_cleanup").Logger(),
		stopCh:      make(chan struct{}),
	}
}

// Start starts the cleanup loop
func (c *Cleanup) Start() error {
	if c.running {
		return fmt.Errorf("cleanup is already running")
	}

	c.running = true
	go c.run()

	c.logger.Info().
		Dur("retention", c.retention).
		Int("max_messages", c.maxMessages).
		Msg("Session cleanup started")
	return nil
}

// Stop stops the cleanup loop
func (c *Cleanup) Stop() error {
	if !c.running {
		return fmt.Errorf("cleanup is not running")
	}

	close(c.stopCh)
	c.running = false

	c.logger.Info().Msg("Session cleanup stopped")
	return nil
}

// IsRunning returns whether the cleanup loop is active
func (c *Cleanup) IsRunning() bool {
	return c.running
}

func (c *Cleanup) run() {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	if err := c.CleanupNow(); err != nil {
		c.logger.Error().Err(err).Msg("Session cleanup pass failed")
	}

	for {
		select {
		case <-ticker.C:
			if err := c.CleanupNow(); err != nil {
				c.logger.Error().Err(err).Msg("Session cleanup pass failed")
			}
		case <-c.stopCh:
			return
		}
	}
}

// CleanupNow runs one cleanup pass immediately
func (c *Cleanup) CleanupNow() error {
	ctx := context.Background()

	sessions, err := c.manager.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	trimmed := 0
	for _, s := range sessions {
		n, err := c.manager.Trim(ctx, s.Key, c.maxMessages)
		if err != nil {
			c.logger.Warn().Str("session_key", s.Key).Err(err).Msg("Failed to trim session")
			continue
		}
		if n > 0 {
			trimmed++
		}
	}

	cutoff := time.Now().Add(-c.retention)
	stale, err := c.manager.IdleSince(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to find idle sessions: %w", err)
	}

	deleted := 0
	for _, s := range stale {
		if err := c.manager.Delete(ctx, s.Key); err != nil {
			c.logger.Warn().Str("session_key", s.Key).Err(err).Msg("Failed to delete stale session")
			continue
		}
		deleted++
	}

	if trimmed > 0 || deleted > 0 {
		c.logger.Info().
			Int("trimmed", trimmed).
			Int("deleted", deleted).
			Msg("Session cleanup pass completed")
	}
	return nil
}
