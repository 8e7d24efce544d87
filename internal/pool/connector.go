package pool

import "context"

// Connector is the opaque capability the pool uses to create, reconnect,
// and disconnect a physical backend connection identified by a database
// name. Implementations must be safe to call concurrently from multiple
// goroutines spawned by the pool, and every operation must be safe to
// abandon when its context is cancelled: cancellation abandons the
// operation from the pool's point of view, but the Connector remains
// responsible for not leaking the underlying native resource.
//
// C is the opaque connection handle type; it must be safe to hand off
// between goroutines (the pool never mutates it).
type Connector[C any] interface {
	// Connect opens a new backend connection to db.
	Connect(ctx context.Context, db string) (C, error)

	// Reconnect closes conn and opens a new backend connection to db,
	// returning the successor. A failure leaves the pool without that
	// connection entirely (the caller must not assume conn survives).
	Reconnect(ctx context.Context, conn C, db string) (C, error)

	// Disconnect closes conn gracefully. Errors are logged and ignored by
	// the pool: the connection is considered gone regardless of outcome.
	Disconnect(ctx context.Context, conn C) error
}
