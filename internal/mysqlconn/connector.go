// Package mysqlconn implements pool.Connector against real MySQL backends,
// adapting the teacher's circuit breaker and replica router so the
// adaptive pool never has to know about physical dial failures or
// read/write routing directly.
package mysqlconn

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/go-sql-driver/mysql"

	"github.com/kafitramarna/TransisiDB/internal/circuitbreaker"
	"github.com/kafitramarna/TransisiDB/internal/replica"
)

// quoteIdentifier backtick-quotes a MySQL identifier, doubling any embedded
// backtick per the standard escaping rule. db ultimately traces back to
// whatever internal/parser.ResolveDatabase resolved a client's parsed table
// name to, which falls back to the raw parsed identifier whenever no
// explicit TablesConfig mapping exists — so it must never be concatenated
// into a statement unescaped.
func quoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// Conn is the opaque handle pool.Pool[*Conn] hands to callers: one
// *sql.Conn pinned to a single backend session, plus the logical database
// it is currently pointed at via USE.
type Conn struct {
	raw *sql.Conn
	db  string
}

// Raw exposes the underlying *sql.Conn for issuing the client's relayed
// query, mirroring how internal/proxy used to reach into database/sql
// directly.
func (c *Conn) Raw() *sql.Conn { return c.raw }

// Connector adapts a replica.Router and a per-backend circuit breaker to
// the pool.Connector contract (spec.md §4.1 / SPEC_FULL §4.7).
type Connector struct {
	router  *replica.Router
	breaker *circuitbreaker.CircuitBreaker
	log     *slog.Logger
}

// New builds a mysqlconn.Connector. router selects the physical backend
// (primary, or a healthy replica for read-only traffic — every pool
// acquire is treated as a write-capable session since the pool
// multiplexes logical databases on one physical server, spec.md §1);
// breakerCfg configures the shared circuit breaker guarding every dial.
func New(router *replica.Router, breakerCfg circuitbreaker.CircuitBreakerConfig, log *slog.Logger) *Connector {
	if log == nil {
		log = slog.Default()
	}
	return &Connector{
		router:  router,
		breaker: circuitbreaker.NewCircuitBreaker(breakerCfg),
		log:     log,
	}
}

// Connect dials a fresh backend session and points it at db via USE,
// guarded by the circuit breaker (spec.md §4.1: Connect must be safe to
// cancel between suspension points; context cancellation propagates
// straight through database/sql).
func (c *Connector) Connect(ctx context.Context, db string) (*Conn, error) {
	var conn *Conn
	err := c.breaker.Call(func() error {
		backend, err := c.router.GetConnection(replica.QueryTypeWrite)
		if err != nil {
			return fmt.Errorf("mysqlconn: select backend: %w", err)
		}
		raw, err := backend.Conn(ctx)
		if err != nil {
			return fmt.Errorf("mysqlconn: dial: %w", err)
		}
		if _, err := raw.ExecContext(ctx, "USE "+quoteIdentifier(db)); err != nil {
			raw.Close()
			return fmt.Errorf("mysqlconn: select database %q: %w", db, err)
		}
		conn = &Conn{raw: raw, db: db}
		return nil
	})
	if err != nil {
		c.log.Debug("connect failed", "db", db, "err", err)
		return nil, err
	}
	return conn, nil
}

// Reconnect repoints an existing session at a different logical database
// via a fresh USE statement — the MySQL wire protocol's equivalent of
// COM_INIT_DB, avoiding a full physical reconnect for the common case of
// moving a connection between blocks (spec.md §4.3's task_steal/task_move_to).
func (c *Connector) Reconnect(ctx context.Context, conn *Conn, db string) (*Conn, error) {
	err := c.breaker.Call(func() error {
		if _, err := conn.raw.ExecContext(ctx, "USE "+quoteIdentifier(db)); err != nil {
			return fmt.Errorf("mysqlconn: reselect database %q: %w", db, err)
		}
		return nil
	})
	if err != nil {
		conn.raw.Close()
		c.log.Debug("reconnect failed", "from", conn.db, "to", db, "err", err)
		return nil, err
	}
	conn.db = db
	return conn, nil
}

// Disconnect closes the physical session. Errors are logged, not
// propagated: a close failure still frees the pool's accounting slot
// (spec.md §4.1: "disconnect is infallible from the pool's perspective").
func (c *Connector) Disconnect(ctx context.Context, conn *Conn) error {
	if err := conn.raw.Close(); err != nil {
		c.log.Debug("disconnect error, treating connection as gone", "db", conn.db, "err", err)
	}
	return nil
}
