package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleTLSStatus reports whether client- and backend-facing TLS are
// configured, reading live state from the wired tls.Manager (SPEC_FULL
// §4.7) instead of a placeholder.
func (s *Server) handleTLSStatus(c *gin.Context) {
	if s.tlsManager == nil {
		c.JSON(http.StatusOK, gin.H{
			"client_tls_enabled":  false,
			"backend_tls_enabled": false,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"client_tls_enabled":  s.tlsManager.IsClientTLSEnabled(),
		"backend_tls_enabled": s.tlsManager.IsBackendTLSEnabled(),
	})
}

// handleReplicaStatus reports the replica router's configured strategy and
// replica count.
func (s *Server) handleReplicaStatus(c *gin.Context) {
	if s.replicaRouter == nil {
		c.JSON(http.StatusOK, gin.H{
			"enabled":          false,
			"strategy":         "",
			"total_replicas":   0,
			"healthy_replicas": 0,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"enabled":          true,
		"strategy":         s.replicaRouter.Strategy(),
		"total_replicas":   s.replicaRouter.ReplicaCount(),
		"healthy_replicas": s.replicaRouter.HealthyReplicaCount(),
	})
}

// handleReplicaHealth reports the primary's direct reachability alongside
// the replica router's own health-checker tally.
func (s *Server) handleReplicaHealth(c *gin.Context) {
	if s.replicaRouter == nil {
		c.JSON(http.StatusOK, gin.H{"primary": gin.H{"status": "not_configured"}})
		return
	}

	primaryStatus := "healthy"
	if err := s.replicaRouter.PingPrimary(); err != nil {
		primaryStatus = "unhealthy"
	}

	c.JSON(http.StatusOK, gin.H{
		"primary": gin.H{"status": primaryStatus},
		"replicas": gin.H{
			"total":   s.replicaRouter.ReplicaCount(),
			"healthy": s.replicaRouter.HealthyReplicaCount(),
		},
	})
}
