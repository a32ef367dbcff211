package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ronitlabs/talktime/internal/auth"
)

func (s *Server) TalkTime(c *gin.Context) {
	email, ok := auth.CallerEmail(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	balance, err := s.sessionSvc.BalanceWithReconciliation(c.Request.Context(), email)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, balance)
}

func (s *Server) SessionStart(c *gin.Context) {
	email, ok := auth.CallerEmail(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	result, err := s.sessionSvc.CheckIn(c.Request.Context(), email)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) Heartbeat(c *gin.Context) {
	email, ok := auth.CallerEmail(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	result, err := s.sessionSvc.Heartbeat(c.Request.Context(), email)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) SessionEnd(c *gin.Context) {
	email, ok := auth.CallerEmail(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	if err := s.sessionSvc.End(c.Request.Context(), email); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}
