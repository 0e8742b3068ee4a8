package db

import "time"

// Database connection constants
const (
	// ConnectionRetrySleep is the sleep duration between connection retries
	ConnectionRetrySleep = 2 * time.Second
	// maxConnectionRetries is the number of retries for initial connection
	maxConnectionRetries = 10
)

// Pool defaults. The relay is a single sequential writer, so the pool stays small.
const (
	defaultMaxConns          = 4
	defaultMinConns          = 1
	defaultMaxConnIdleTime   = 5 * time.Minute
	defaultMaxConnLifetime   = time.Hour
	defaultHealthCheckPeriod = time.Minute
)

// Advisory lock ids.
const (
	migrationLockID = int64(1000)
	ownerLockID     = int64(1001)
)

// checkpointRowID is the id of the single checkpoint row.
const checkpointRowID = 1
