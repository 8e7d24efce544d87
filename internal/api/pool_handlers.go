package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kafitramarna/TransisiDB/internal/pool"
)

// handlePoolMetrics reports the pool-wide metrics contract (spec.md §6):
// per-block lifecycle counters, quotas, demand estimates, and the
// observability-only mode classification.
func (s *Server) handlePoolMetrics(c *gin.Context) {
	if s.pool == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "pool not configured on this instance"})
		return
	}

	snap := s.pool.Metrics()

	blocks := make(gin.H, len(snap.Blocks))
	for name, b := range snap.Blocks {
		blocks[name] = gin.H{
			"quota":   b.Quota,
			"demand":  b.Demand,
			"drained": b.Drained,
			"counts":  variantCounts(b.Counts),
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"mode":     snap.Mode.String(),
		"total":    snap.Total,
		"all_time": variantCounts(snap.AllTime),
		"blocks":   blocks,
	})
}

func variantCounts(c pool.BlockCounters) gin.H {
	return gin.H{
		"connecting":    c.Get(pool.VarConnecting),
		"reconnecting":  c.Get(pool.VarReconnecting),
		"idle":          c.Get(pool.VarIdle),
		"active":        c.Get(pool.VarActive),
		"disconnecting": c.Get(pool.VarDisconnecting),
		"failed":        c.Get(pool.VarFailed),
		"closed":        c.Get(pool.VarClosed),
		"waiting":       c.Get(pool.VarWaiting),
	}
}

// drainRequest lets a caller override the default wait bound; draining a
// busy block can take as long as its longest-lived connection's query.
type drainRequest struct {
	TimeoutSeconds int `json:"timeout_seconds"`
}

func (r drainRequest) timeout() time.Duration {
	if r.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// handlePoolDrain closes every connection belonging to one block, including
// in-flight ones once they're released. The block acquires no new
// connections while the drain runs; the drain lock is released when the
// request returns, and the block then serves acquires again (spec.md §7).
func (s *Server) handlePoolDrain(c *gin.Context) {
	if s.pool == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "pool not configured on this instance"})
		return
	}
	db := c.Param("db")

	var req drainRequest
	_ = c.ShouldBindJSON(&req)

	ctx, cancel := context.WithTimeout(c.Request.Context(), req.timeout())
	defer cancel()

	if err := s.pool.Drain(ctx, db); err != nil {
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "block drained", "database": db})
}

// handlePoolDrainIdle closes only the idle connections of one block,
// leaving in-flight connections to finish naturally.
func (s *Server) handlePoolDrainIdle(c *gin.Context) {
	if s.pool == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "pool not configured on this instance"})
		return
	}
	db := c.Param("db")

	var req drainRequest
	_ = c.ShouldBindJSON(&req)

	ctx, cancel := context.WithTimeout(c.Request.Context(), req.timeout())
	defer cancel()

	if err := s.pool.DrainIdle(ctx, db); err != nil {
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "block idle connections drained", "database": db})
}

// handlePoolDrainAll drains every block, used ahead of a planned restart.
func (s *Server) handlePoolDrainAll(c *gin.Context) {
	if s.pool == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "pool not configured on this instance"})
		return
	}

	var req drainRequest
	_ = c.ShouldBindJSON(&req)

	ctx, cancel := context.WithTimeout(c.Request.Context(), req.timeout())
	defer cancel()

	if err := s.pool.DrainAll(ctx); err != nil {
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "all blocks drained"})
}

// handlePoolShutdown stops the pool's actor goroutine after closing every
// connection. The proxy listener is not affected directly; operators are
// expected to call this only as part of a coordinated process shutdown.
func (s *Server) handlePoolShutdown(c *gin.Context) {
	if s.pool == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "pool not configured on this instance"})
		return
	}

	var req drainRequest
	_ = c.ShouldBindJSON(&req)

	ctx, cancel := context.WithTimeout(c.Request.Context(), req.timeout())
	defer cancel()

	if err := s.pool.Shutdown(ctx); err != nil {
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "pool shut down"})
}
