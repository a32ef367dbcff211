package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ronitlabs/talktime/internal/auth"
)

func (s *Server) ConversationToken(c *gin.Context) {
	email, ok := auth.CallerEmail(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	token, err := s.voiceSvc.Token(c.Request.Context(), email)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}
