package database

import "errors"

// Sentinel errors for the acquisition paths. Wrapped causes remain
// reachable through errors.Is / errors.As.
var (
	// ErrPoolClosed is returned when acquiring from a closed pool.
	ErrPoolClosed = errors.New("connection pool is closed")

	// ErrAcquireTimeout is returned when pool checkout exceeds the configured
	// acquisition timeout.
	ErrAcquireTimeout = errors.New("connection acquisition timed out")

	// ErrContextSetup is returned when the session context could not be set
	// (or defensively cleared) during acquisition. The checked-out connection
	// never reaches the caller in that case.
	ErrContextSetup = errors.New("failed to set up session context")

	// ErrDegraded is returned when tenant-scoped acquisitions are rejected
	// because context set/clear operations have been failing persistently.
	ErrDegraded = errors.New("tenant acquisitions rejected: context protocol degraded")
)
