package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/ronitlabs/talktime/internal/auth/domain"
	"github.com/ronitlabs/talktime/internal/clock"
	"github.com/ronitlabs/talktime/internal/config"
	ledgerdomain "github.com/ronitlabs/talktime/internal/ledger/domain"
	"github.com/ronitlabs/talktime/internal/ledger/repository"
	ledgerservice "github.com/ronitlabs/talktime/internal/ledger/service"
	"github.com/ronitlabs/talktime/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestService(t *testing.T) (*Service, ledgerdomain.Service, *clock.FakeClock) {
	t.Helper()

	gdb, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&ledgerdomain.UserAccount{}, &ledgerdomain.SessionLog{}))

	fake := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := config.Config{
		AuthJWTSecret:       "test-secret",
		TokenTTL:            24 * time.Hour,
		AdminUsername:       "admin",
		AdminPassword:       "admin-password",
		WelcomeBonusSeconds: 180,
	}

	log := zaptest.NewLogger(t)
	ledgerSvc := ledgerservice.New(ledgerservice.Params{
		DB:    gdb,
		Log:   log,
		Clock: fake,
		Cfg:   cfg,
		GenID: node,
		Repo:  repository.Provide(),
	})

	svc := New(Params{
		Log:    log,
		Cfg:    cfg,
		Clock:  fake,
		Ledger: ledgerSvc,
		Google: NewGoogleVerifier(cfg, log),
	}).(*Service)

	return svc, ledgerSvc, fake
}

func TestSignup_GrantsWelcomeBonus(t *testing.T) {
	svc, ledgerSvc, _ := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Signup(ctx, domain.SignupRequest{
		Email:    "Alice@Example.com",
		Name:     "Alice",
		Password: "a-long-password",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", sess.Email)
	assert.Equal(t, float64(180), sess.TalkTimeSeconds)
	assert.True(t, sess.IsNewUser)
	assert.NotEmpty(t, sess.Token)

	account, err := ledgerSvc.Get(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, account.IsCommunityMember)
	assert.True(t, account.WelcomeBonusGiven)
	require.NotNil(t, account.PasswordHash)
}

func TestSignup_RejectsWeakPassword(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Signup(context.Background(), domain.SignupRequest{
		Email:    "alice@example.com",
		Password: "short",
	})
	require.ErrorIs(t, err, domain.ErrWeakPassword)
}

func TestSignup_RejectsDuplicate(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Signup(ctx, domain.SignupRequest{Email: "alice@example.com", Password: "a-long-password"})
	require.NoError(t, err)

	_, err = svc.Signup(ctx, domain.SignupRequest{Email: "alice@example.com", Password: "a-long-password"})
	require.ErrorIs(t, err, ledgerdomain.ErrUserExists)
}

func TestLogin(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Signup(ctx, domain.SignupRequest{Email: "alice@example.com", Password: "a-long-password"})
	require.NoError(t, err)

	sess, err := svc.Login(ctx, domain.LoginRequest{Email: "alice@example.com", Password: "a-long-password"})
	require.NoError(t, err)
	assert.False(t, sess.IsNewUser)

	_, err = svc.Login(ctx, domain.LoginRequest{Email: "alice@example.com", Password: "wrong"})
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, err = svc.Login(ctx, domain.LoginRequest{Email: "nobody@example.com", Password: "a-long-password"})
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestLogin_GoogleOnlyAccountHasNoPassword(t *testing.T) {
	svc, ledgerSvc, _ := newTestService(t)
	ctx := context.Background()

	_, err := ledgerSvc.Create(ctx, ledgerdomain.CreateAccountRequest{
		Email:           "gonly@example.com",
		CommunityMember: true,
	})
	require.NoError(t, err)

	_, err = svc.Login(ctx, domain.LoginRequest{Email: "gonly@example.com", Password: "anything-at-all"})
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestVerifyToken(t *testing.T) {
	svc, _, fake := newTestService(t)
	ctx := context.Background()

	sess, err := svc.Signup(ctx, domain.SignupRequest{Email: "alice@example.com", Password: "a-long-password"})
	require.NoError(t, err)

	claims, err := svc.VerifyToken(sess.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, domain.ScopeUser, claims.Scope)

	_, err = svc.VerifyToken("not-a-token")
	require.ErrorIs(t, err, domain.ErrInvalidToken)

	// Expiry honours the injected clock.
	fake.Advance(25 * time.Hour)
	_, err = svc.VerifyToken(sess.Token)
	require.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestAdminLogin(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	token, err := svc.AdminLogin(ctx, "admin", "admin-password")
	require.NoError(t, err)

	claims, err := svc.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, domain.ScopeAdmin, claims.Scope)

	_, err = svc.AdminLogin(ctx, "admin", "wrong")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, err = svc.AdminLogin(ctx, "root", "admin-password")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestAdminLogin_DisabledWithoutPassword(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.cfg.AdminPassword = ""

	_, err := svc.AdminLogin(context.Background(), "admin", "")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestGoogleSignIn(t *testing.T) {
	svc, ledgerSvc, _ := newTestService(t)
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("id_token") {
		case "good-token":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"email":"gina@example.com","email_verified":"true","name":"Gina","aud":"client-123"}`))
		case "wrong-audience":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"email":"gina@example.com","email_verified":"true","aud":"someone-else"}`))
		case "unverified":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"email":"gina@example.com","email_verified":"false","aud":"client-123"}`))
		default:
			http.Error(w, "invalid token", http.StatusBadRequest)
		}
	}))
	defer server.Close()

	svc.google.baseURL = server.URL
	svc.google.clientID = "client-123"

	sess, err := svc.GoogleSignIn(ctx, "good-token")
	require.NoError(t, err)
	assert.True(t, sess.IsNewUser)
	assert.Equal(t, "gina@example.com", sess.Email)
	assert.Equal(t, float64(180), sess.TalkTimeSeconds)

	account, err := ledgerSvc.Get(ctx, "gina@example.com")
	require.NoError(t, err)
	assert.True(t, account.IsCommunityMember)
	assert.Nil(t, account.PasswordHash)

	// Second sign-in finds the existing account.
	sess, err = svc.GoogleSignIn(ctx, "good-token")
	require.NoError(t, err)
	assert.False(t, sess.IsNewUser)

	_, err = svc.GoogleSignIn(ctx, "wrong-audience")
	require.ErrorIs(t, err, domain.ErrGoogleRejected)
	_, err = svc.GoogleSignIn(ctx, "unverified")
	require.ErrorIs(t, err, domain.ErrGoogleRejected)
	_, err = svc.GoogleSignIn(ctx, "garbage")
	require.ErrorIs(t, err, domain.ErrGoogleRejected)
	_, err = svc.GoogleSignIn(ctx, "")
	require.ErrorIs(t, err, domain.ErrGoogleRejected)
}
