// Package config holds default tuning constants shared across tier and
// wrapper processes so they don't drift independently.
package config

import "time"

// Default timing constants for the overlay tree's lifecycle.
const (
	DefaultUpdateInterval   = 10 * time.Second
	DefaultConnectBackGrace = 60 * time.Second
	DefaultStopGrace        = 30 * time.Second
	DefaultDownwardTimeout  = 60 * time.Second
	DefaultNaturalExitGrace = 10 * time.Second
	DefaultTermGrace        = 5 * time.Second

	// DefaultCompleteAckTimeout bounds how long a wrapper's REPORT step
	// waits for its parent to acknowledge the "complete" action before
	// giving up and exiting anyway.
	DefaultCompleteAckTimeout = 5 * time.Second

	DefaultSampleInterval = 5 * time.Second

	DefaultListenAddr = "127.0.0.1:0"

	// DefaultLogChannelBufferSize bounds the channel connecting a
	// wrapper's output capture goroutines to its MONITOR loop.
	DefaultLogChannelBufferSize = 64
)
