// Package constants defines magic numbers and default values shared across gumdrop.
package constants

import "time"

// Connection timeouts and limits
const (
	DefaultIdleTimeout    = 90 * time.Second
	DefaultConnTimeout    = 10 * time.Second
	DefaultReadTimeout    = 30 * time.Second
	DefaultPingInterval   = 15 * time.Second
	MaxConnectionIdleTime = 5 * time.Minute
	HealthCheckInterval   = 30 * time.Second
	CleanupInterval       = 30 * time.Second
)

// HTTP/2 limits (RFC 7540 defaults unless noted)
const (
	MaxTotalStreams           = 10000
	SettingsAckTimeout        = 10 * time.Second
	DefaultHpackTableSize     = 4096
	DefaultMaxConcurrentStream = 100
	DefaultInitialWindowSize  = 65535
	DefaultMaxFrameSize       = 16384
	MaxAllowedFrameSize       = 1<<24 - 1
	DefaultMaxHeaderListSize  = 10 * 1024 * 1024
	MaxWindowSize             = 1<<31 - 1
	FrameHeaderLen            = 9
)

// HTTP limits
const (
	MaxContentLength = 1024 * 1024 * 1024 * 1024 // 1TB
)

// Buffer limits
const (
	DefaultBodyMemLimit = 4 * 1024 * 1024        // 4MB
	MaxRawBufferSize    = 100 * 1024 * 1024       // 100MB cap for raw buffer
	DefaultInboundCap   = 1 * 1024 * 1024         // 1MB per-connection inbound cap
	OutboundWatermark   = 4 * 1024 * 1024         // 4MB outbound backlog watermark
)

// WebSocket limits
const (
	DefaultMaxWSMessageSize = 16 * 1024 * 1024 // 16MB reassembly cap (spec open question)
	MaxControlFramePayload  = 125
)

// Rate limiting defaults
const (
	DefaultMaxAuthFailures    = 5
	DefaultAuthLockoutTime    = 1 * time.Second
	DefaultMaxAuthLockoutTime = 5 * time.Minute
	DefaultSweepInterval      = 30 * time.Second
)

// TLS handshake worker pool defaults
const (
	DefaultHandshakeConcurrency = 64
)
