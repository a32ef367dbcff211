package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ronitlabs/talktime/internal/auth/domain"
	"github.com/ronitlabs/talktime/internal/auth/password"
	"github.com/ronitlabs/talktime/internal/clock"
	"github.com/ronitlabs/talktime/internal/config"
	ledgerdomain "github.com/ronitlabs/talktime/internal/ledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const minPasswordLength = 8

type Params struct {
	fx.In

	Log    *zap.Logger
	Cfg    config.Config
	Clock  clock.Clock
	Ledger ledgerdomain.Service
	Google *GoogleVerifier
}

type Service struct {
	log    *zap.Logger
	cfg    config.Config
	clock  clock.Clock
	ledger ledgerdomain.Service
	google *GoogleVerifier
}

func New(p Params) domain.Service {
	return &Service{
		log:    p.Log.Named("auth.service"),
		cfg:    p.Cfg,
		clock:  p.Clock,
		ledger: p.Ledger,
		google: p.Google,
	}
}

type tokenClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

func (s *Service) issueToken(subject, scope string) (string, error) {
	now := s.clock.Now()
	claims := tokenClaims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString([]byte(s.cfg.AuthJWTSecret))
}

func (s *Service) VerifyToken(token string) (*domain.Claims, error) {
	var claims tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &claims,
		func(t *jwt.Token) (any, error) {
			return []byte(s.cfg.AuthJWTSecret), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil || !parsed.Valid {
		return nil, domain.ErrInvalidToken
	}

	scope := claims.Scope
	if scope == "" {
		scope = domain.ScopeUser
	}
	return &domain.Claims{Email: claims.Subject, Scope: scope}, nil
}

func (s *Service) Signup(ctx context.Context, req domain.SignupRequest) (*domain.Session, error) {
	if len(strings.TrimSpace(req.Password)) < minPasswordLength {
		return nil, domain.ErrWeakPassword
	}

	hashed, err := password.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	account, err := s.ledger.Create(ctx, ledgerdomain.CreateAccountRequest{
		Email:           req.Email,
		Name:            req.Name,
		PasswordHash:    &hashed,
		WelcomeBonus:    s.cfg.WelcomeBonusSeconds,
		CommunityMember: true,
	})
	if err != nil {
		return nil, err
	}

	return s.signIn(ctx, account, true)
}

func (s *Service) Login(ctx context.Context, req domain.LoginRequest) (*domain.Session, error) {
	account, err := s.ledger.Get(ctx, req.Email)
	if err != nil {
		if errors.Is(err, ledgerdomain.ErrNotFound) || errors.Is(err, ledgerdomain.ErrInvalidEmail) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}

	// Accounts created through Google have no password.
	if account.PasswordHash == nil || !password.Verify(req.Password, *account.PasswordHash) {
		return nil, domain.ErrInvalidCredentials
	}

	return s.signIn(ctx, account, false)
}

func (s *Service) GoogleSignIn(ctx context.Context, idToken string) (*domain.Session, error) {
	identity, err := s.google.Verify(ctx, idToken)
	if err != nil {
		return nil, err
	}

	account, err := s.ledger.Get(ctx, identity.Email)
	if errors.Is(err, ledgerdomain.ErrNotFound) {
		account, err = s.ledger.Create(ctx, ledgerdomain.CreateAccountRequest{
			Email:           identity.Email,
			Name:            identity.Name,
			WelcomeBonus:    s.cfg.WelcomeBonusSeconds,
			CommunityMember: true,
		})
		if err != nil {
			return nil, err
		}
		return s.signIn(ctx, account, true)
	}
	if err != nil {
		return nil, err
	}
	return s.signIn(ctx, account, false)
}

func (s *Service) AdminLogin(ctx context.Context, username, pass string) (string, error) {
	if s.cfg.AdminPassword == "" {
		s.log.Warn("admin login attempted with no admin password configured")
		return "", domain.ErrInvalidCredentials
	}

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.cfg.AdminUsername)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.AdminPassword)) == 1
	if !userOK || !passOK {
		return "", domain.ErrInvalidCredentials
	}

	return s.issueToken(s.cfg.AdminUsername, domain.ScopeAdmin)
}

func (s *Service) signIn(ctx context.Context, account *ledgerdomain.UserAccount, isNew bool) (*domain.Session, error) {
	token, err := s.issueToken(account.Email, domain.ScopeUser)
	if err != nil {
		return nil, err
	}

	if err := s.ledger.RecordLogin(ctx, account.Email); err != nil {
		s.log.Warn("failed to record login", zap.String("email", account.Email), zap.Error(err))
	}

	s.log.Info("user signed in",
		zap.String("email", account.Email),
		zap.Bool("new_user", isNew),
	)
	return &domain.Session{
		Token:           token,
		Email:           account.Email,
		Name:            account.Name,
		TalkTimeSeconds: account.TalkTimeSeconds,
		IsNewUser:       isNew,
	}, nil
}
