package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/matinoplay/billing/internal/webcharge"
)

// WebCharge runs a synchronous charge on behalf of a web user. The gateway
// call can take up to the configured charge timeout; the client is expected
// to hold the connection open.
func (s *Server) WebCharge(c *gin.Context) {
	var req webcharge.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.webChargeSvc.Execute(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// CheckSubscription lists the live subscriptions for an msisdn.
func (s *Server) CheckSubscription(c *gin.Context) {
	msisdn := strings.TrimSpace(c.Query("msisdn"))
	if msisdn == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	subs, err := s.chargingSvc.CheckSubscription(c.Request.Context(), msisdn)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"msisdn": msisdn, "subscriptions": subs})
}

// ValidateKeys reports on the key material for a sub-service. Diagnostics
// only, keyed by directory name, never exposes key bytes.
func (s *Server) ValidateKeys(c *gin.Context) {
	subService := strings.TrimSpace(c.Param("sub_service"))
	if subService == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	c.JSON(http.StatusOK, s.keys.Validate(subService))
}
