package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ronitlabs/talktime/internal/auth/domain"
	"github.com/ronitlabs/talktime/internal/config"
	"go.uber.org/zap"
)

const defaultTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"

// GoogleIdentity is the subset of the tokeninfo response we rely on.
type GoogleIdentity struct {
	Email string
	Name  string
}

// GoogleVerifier validates Google ID tokens against the tokeninfo
// endpoint. Server-side verification keeps the client honest: the token's
// audience must be our own OAuth client.
type GoogleVerifier struct {
	log      *zap.Logger
	client   *http.Client
	baseURL  string
	clientID string
}

func NewGoogleVerifier(cfg config.Config, log *zap.Logger) *GoogleVerifier {
	return &GoogleVerifier{
		log:      log.Named("auth.google"),
		client:   &http.Client{Timeout: 10 * time.Second},
		baseURL:  defaultTokenInfoURL,
		clientID: cfg.GoogleClientID,
	}
}

type tokenInfoResponse struct {
	Email         string `json:"email"`
	EmailVerified string `json:"email_verified"`
	Name          string `json:"name"`
	Audience      string `json:"aud"`
}

func (v *GoogleVerifier) Verify(ctx context.Context, idToken string) (*GoogleIdentity, error) {
	if idToken == "" {
		return nil, domain.ErrGoogleRejected
	}

	endpoint := fmt.Sprintf("%s?id_token=%s", v.baseURL, url.QueryEscape(idToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tokeninfo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		v.log.Warn("google rejected id token", zap.Int("status", resp.StatusCode))
		return nil, domain.ErrGoogleRejected
	}

	var info tokenInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, domain.ErrGoogleRejected
	}

	if v.clientID != "" && info.Audience != v.clientID {
		v.log.Warn("google token audience mismatch")
		return nil, domain.ErrGoogleRejected
	}
	if info.Email == "" || info.EmailVerified != "true" {
		return nil, domain.ErrGoogleRejected
	}

	return &GoogleIdentity{Email: info.Email, Name: info.Name}, nil
}
