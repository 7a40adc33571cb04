package server

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	chargingdomain "github.com/matinoplay/billing/internal/charging/domain"
)

// SubRequest handles registration and cancellation callbacks.
func (s *Server) SubRequest(c *gin.Context) {
	req, ok := s.bindCallback(c)
	if !ok {
		return
	}
	s.ack(c, string(s.chargingSvc.ProcessSubscription(c.Request.Context(), req)))
}

// ResultRequest handles renewal result callbacks.
func (s *Server) ResultRequest(c *gin.Context) {
	req, ok := s.bindCallback(c)
	if !ok {
		return
	}
	s.ack(c, string(s.chargingSvc.ProcessRenewal(c.Request.Context(), req)))
}

// ContentRequest handles one-off content purchase callbacks.
func (s *Server) ContentRequest(c *gin.Context) {
	req, ok := s.bindCallback(c)
	if !ok {
		return
	}
	s.ack(c, string(s.chargingSvc.ProcessContent(c.Request.Context(), req)))
}

// bindCallback parses and authenticates a partner callback. Any failure
// answers the reject ack itself and reports ok=false.
func (s *Server) bindCallback(c *gin.Context) (chargingdomain.CallbackRequest, bool) {
	var req chargingdomain.CallbackRequest
	if err := c.ShouldBind(&req); err != nil {
		s.log.Warn("malformed callback", zap.Error(err), zap.String("path", c.Request.URL.Path))
		s.ack(c, string(chargingdomain.AckFail))
		return req, false
	}

	if !s.validCredentials(req.Username, req.Password) {
		s.log.Warn("callback credentials rejected",
			zap.String("username", req.Username),
			zap.String("msisdn", req.Msisdn),
		)
		s.ack(c, string(chargingdomain.AckFail))
		return req, false
	}

	return req, true
}

func (s *Server) validCredentials(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.cfg.Partner.APIUsername)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.cfg.Partner.APIPassword)) == 1
	return userOK && passOK
}

func (s *Server) ack(c *gin.Context, ack string) {
	c.JSON(http.StatusOK, gin.H{"return": ack})
}
