package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ronitlabs/talktime/internal/admin"
)

type communityRequest struct {
	Email             string `json:"email" binding:"required"`
	IsCommunityMember *bool  `json:"is_community_member" binding:"required"`
}

type resetRequest struct {
	Email         string `json:"email" binding:"required"`
	ResetTalkTime bool   `json:"reset_talktime"`
	ResetSessions bool   `json:"reset_sessions"`
}

func (s *Server) AdminListUsers(c *gin.Context) {
	users, err := s.adminSvc.ListUsers(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (s *Server) AdminStats(c *gin.Context) {
	stats, err := s.adminSvc.Stats(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) AdminTalkTime(c *gin.Context) {
	var op admin.TalkTimeOp
	if err := c.ShouldBindJSON(&op); err != nil || op.Email == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	newBalance, err := s.adminSvc.AdjustTalkTime(c.Request.Context(), op)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"email": op.Email, "talktime": newBalance})
}

func (s *Server) AdminCommunity(c *gin.Context) {
	var req communityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.adminSvc.SetCommunityMember(c.Request.Context(), req.Email, *req.IsCommunityMember); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"email": req.Email, "is_community_member": *req.IsCommunityMember})
}

func (s *Server) AdminReset(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.adminSvc.ResetUser(c.Request.Context(), req.Email, req.ResetTalkTime, req.ResetSessions); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) AdminDeleteUser(c *gin.Context) {
	email := c.Param("email")
	if email == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.adminSvc.DeleteUser(c.Request.Context(), email); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
