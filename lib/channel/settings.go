// Package channel provides the pooled channel provider at the core of the
// OpalDB driver: a bounded pool of long-lived connections to a single
// server, borrowed through short-lived channels that correlate requests
// with replies and retire whole cohorts of connections when a transport
// fault is observed.
package channel

import (
	"fmt"
	"time"

	apperrors "github.com/opaldb/opal-go/lib/errors"
)

// Settings is the immutable configuration of a channel provider.
type Settings struct {
	// MaxSize is the hard cap on live connections. Must be at least 1.
	MaxSize int
	// MinSize is the floor the maintenance task tries to maintain.
	MinSize int
	// MaxWaitQueueSize is the upper bound on concurrent waiters.
	MaxWaitQueueSize int
	// MaxWaitTime is the default acquisition timeout. Zero is
	// non-blocking; negative waits indefinitely.
	MaxWaitTime time.Duration
	// MaxIdleTime prunes connections unused for longer. Zero disables
	// idle pruning.
	MaxIdleTime time.Duration
	// MaxLifeTime prunes connections older than this. Zero disables
	// lifetime pruning.
	MaxLifeTime time.Duration
	// MaintenanceFrequency is the period of the maintenance task.
	MaintenanceFrequency time.Duration
	// MaintenanceInitialDelay delays the first maintenance run.
	MaintenanceInitialDelay time.Duration
}

// DefaultSettings returns Settings with sensible defaults.
func DefaultSettings() Settings {
	return Settings{
		MaxSize:              100,
		MinSize:              0,
		MaxWaitQueueSize:     500,
		MaxWaitTime:          2 * time.Minute,
		MaxIdleTime:          0,
		MaxLifeTime:          0,
		MaintenanceFrequency: time.Minute,
	}
}

// Validate checks the settings for consistency.
func (s Settings) Validate() error {
	if s.MaxSize < 1 {
		return invalid(fmt.Sprintf("maxSize must be at least 1, got %d", s.MaxSize))
	}
	if s.MinSize < 0 || s.MinSize > s.MaxSize {
		return invalid(fmt.Sprintf("minSize must be between 0 and maxSize, got %d", s.MinSize))
	}
	if s.MaxWaitQueueSize < 0 {
		return invalid(fmt.Sprintf("maxWaitQueueSize must not be negative, got %d", s.MaxWaitQueueSize))
	}
	if s.MaxIdleTime < 0 {
		return invalid("maxIdleTime must not be negative")
	}
	if s.MaxLifeTime < 0 {
		return invalid("maxLifeTime must not be negative")
	}
	if s.MaintenanceFrequency <= 0 {
		return invalid("maintenanceFrequency must be positive")
	}
	if s.MaintenanceInitialDelay < 0 {
		return invalid("maintenanceInitialDelay must not be negative")
	}
	return nil
}

func invalid(msg string) error {
	return apperrors.Wrap(apperrors.CodeConfiguration, msg, apperrors.ErrConfiguration)
}

// pruningEnabled reports whether the maintenance task has any pruning work.
func (s Settings) pruningEnabled() bool {
	return s.MaxIdleTime > 0 || s.MaxLifeTime > 0
}

// maintenanceEnabled reports whether a maintenance task is needed at all.
func (s Settings) maintenanceEnabled() bool {
	return s.pruningEnabled() || s.MinSize > 0
}
