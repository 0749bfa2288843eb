// FILENAME: internal/config/config.go
package config

import "time"

// Global Configuration
const (
	// Gang
	DefaultConcurrency = 20
	DefaultRounds      = 1
	RoundTimeout       = 45 * time.Second

	// Barrier
	SpinBarrierCheck = 1024 // Iterations before checking context for safety
)
