package domain

import (
	"context"
	"errors"
)

// Scopes carried inside issued tokens.
const (
	ScopeUser  = "user"
	ScopeAdmin = "admin"
)

type SignupRequest struct {
	Email    string
	Name     string
	Password string
}

type LoginRequest struct {
	Email    string
	Password string
}

// Session is the result of any successful sign-in path.
type Session struct {
	Token           string
	Email           string
	Name            string
	TalkTimeSeconds float64
	IsNewUser       bool
}

// Claims is the verified content of a bearer token.
type Claims struct {
	Email string
	Scope string
}

type Service interface {
	// Signup creates a local account, applies the welcome bonus, and
	// signs the user in.
	Signup(ctx context.Context, req SignupRequest) (*Session, error)

	// Login authenticates a local account by password.
	Login(ctx context.Context, req LoginRequest) (*Session, error)

	// GoogleSignIn verifies a Google ID token and signs the user in,
	// creating the account on first contact.
	GoogleSignIn(ctx context.Context, idToken string) (*Session, error)

	// AdminLogin exchanges the operator credentials for an admin-scoped
	// token.
	AdminLogin(ctx context.Context, username, password string) (string, error)

	// VerifyToken parses and validates a bearer token.
	VerifyToken(token string) (*Claims, error)
}

var (
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrWeakPassword       = errors.New("weak_password")
	ErrInvalidToken       = errors.New("invalid_token")
	ErrGoogleRejected     = errors.New("google_token_rejected")
)
