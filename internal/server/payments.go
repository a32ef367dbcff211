package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ronitlabs/talktime/internal/auth"
	paymentsdomain "github.com/ronitlabs/talktime/internal/payments/domain"
)

func (s *Server) PaymentOrder(c *gin.Context) {
	order, err := s.paymentsSvc.CreateOrder(c.Request.Context(), paymentsdomain.OrderRequest{})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

func (s *Server) PaymentVerify(c *gin.Context) {
	email, ok := auth.CallerEmail(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req paymentsdomain.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.paymentsSvc.VerifyAndCredit(c.Request.Context(), email, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
