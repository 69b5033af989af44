package config

import "time"

// Timeout constants
const (
	// HTTP timeouts
	DefaultHTTPTimeout    = 60 * time.Second
	ServerShutdownTimeout = 30 * time.Second
	WorkerShutdownTimeout = 30 * time.Second
	WorkerVersionTimeout  = 2 * time.Second

	// Database timeouts
	DatabaseConnMaxLifetime = 5 * time.Minute

	// Session cookie lifetime
	SessionMaxAge = 7 * 24 * time.Hour // 7 days

	// Websocket timeouts
	WebsocketWriteWait  = 10 * time.Second
	WebsocketPongWait   = 60 * time.Second
	WebsocketPingPeriod = (WebsocketPongWait * 9) / 10
)

// Game rule constants
const (
	// DefaultSessionTTL bounds how long a session may stay active
	DefaultSessionTTL = 10 * time.Minute
	// DefaultSweepInterval is how often expired sessions are swept
	DefaultSweepInterval = 1 * time.Minute
	// DefaultMaxCommitRetries bounds optimistic-concurrency retries per operation
	DefaultMaxCommitRetries = 5
	// DefaultAggregationRetryInterval is how often unaggregated completions are retried
	DefaultAggregationRetryInterval = 2 * time.Minute
	// DefaultAggregationGrace leaves fresh completions to the request path
	DefaultAggregationGrace = 30 * time.Second
	// DefaultRecentAttempts is the number of attempts reported by level progress
	DefaultRecentAttempts = 5
	// DefaultWorkerHistory is the number of worker runs kept in memory
	DefaultWorkerHistory = 50
	// AppliedSessionsLimit bounds the idempotency ring kept on aggregates
	AppliedSessionsLimit = 200
)

// Session configuration constants
const (
	SessionPath     = "/"
	SessionHTTPOnly = true
	SessionSecure   = false // Set to true in production with HTTPS

	SessionName = "levelquest-session"
)

// Event constants
const (
	DefaultAMQPExchange = "levelquest.events"
)
