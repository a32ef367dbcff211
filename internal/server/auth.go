package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	authdomain "github.com/ronitlabs/talktime/internal/auth/domain"
)

type signupRequest struct {
	Email    string `json:"email" binding:"required"`
	Name     string `json:"name"`
	Password string `json:"password" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type googleSignInRequest struct {
	IDToken string `json:"id_token" binding:"required"`
}

type adminLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token           string  `json:"token"`
	Email           string  `json:"email"`
	Name            string  `json:"name"`
	TalkTimeSeconds float64 `json:"talktime"`
	IsNewUser       bool    `json:"is_new_user"`
}

func toSessionResponse(s *authdomain.Session) sessionResponse {
	return sessionResponse{
		Token:           s.Token,
		Email:           s.Email,
		Name:            s.Name,
		TalkTimeSeconds: s.TalkTimeSeconds,
		IsNewUser:       s.IsNewUser,
	}
}

func (s *Server) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	session, err := s.authSvc.Signup(c.Request.Context(), authdomain.SignupRequest{
		Email:    req.Email,
		Name:     req.Name,
		Password: req.Password,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toSessionResponse(session))
}

func (s *Server) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	session, err := s.authSvc.Login(c.Request.Context(), authdomain.LoginRequest{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, toSessionResponse(session))
}

func (s *Server) GoogleSignIn(c *gin.Context) {
	var req googleSignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	session, err := s.authSvc.GoogleSignIn(c.Request.Context(), req.IDToken)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, toSessionResponse(session))
}

func (s *Server) AdminLogin(c *gin.Context) {
	var req adminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	token, err := s.authSvc.AdminLogin(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}
