package constants

import "time"

const (
	// LeaseDuration bounds how long an upstream credential stays committed to
	// its last caller without becoming reassignable.
	LeaseDuration = 2 * time.Minute
	// FaultCooldown quarantines a credential after a reported upstream fault.
	FaultCooldown = 5 * time.Minute
	// SessionLockDuration is the exclusivity window during which a second
	// device presenting the same access token is rejected.
	SessionLockDuration = 30 * time.Second

	// UpstreamStreamTimeout enforces max duration for streaming requests.
	UpstreamStreamTimeout = 180 * time.Second
	// ServerShutdownTimeout bounds graceful HTTP server shutdown.
	ServerShutdownTimeout = 30 * time.Second
	// ServerGracefulWait defines post-shutdown wait window for cleanup.
	ServerGracefulWait = 2 * time.Second
)
