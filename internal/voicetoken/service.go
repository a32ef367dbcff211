package voicetoken

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ronitlabs/talktime/internal/clock"
	"github.com/ronitlabs/talktime/internal/config"
	ledgerdomain "github.com/ronitlabs/talktime/internal/ledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// cacheTTL is slightly under a minute: upstream conversation tokens are
// short-lived, and a stale one causes the voice widget to fail open.
const cacheTTL = 55 * time.Second

var (
	ErrAccessRestricted = errors.New("voice_access_restricted")
	ErrNotConfigured    = errors.New("voice_provider_not_configured")
	ErrUpstream         = errors.New("voice_provider_failure")
)

type Params struct {
	fx.In

	Log    *zap.Logger
	Cfg    config.Config
	Clock  clock.Clock
	Ledger ledgerdomain.Service
}

// Service hands out conversation tokens for the voice provider. Tokens
// are cached process-wide and fetches are deduplicated, so a burst of
// clients costs one upstream call.
type Service struct {
	log    *zap.Logger
	cfg    config.Config
	clock  clock.Clock
	ledger ledgerdomain.Service
	client *http.Client

	group singleflight.Group

	mu        sync.Mutex
	cached    string
	fetchedAt time.Time
}

func New(p Params) *Service {
	return &Service{
		log:    p.Log.Named("voicetoken.service"),
		cfg:    p.Cfg,
		clock:  p.Clock,
		ledger: p.Ledger,
		client: &http.Client{Timeout: 9 * time.Second},
	}
}

// Token returns a conversation token for a community member.
func (s *Service) Token(ctx context.Context, email string) (string, error) {
	account, err := s.ledger.Get(ctx, email)
	if err != nil {
		return "", err
	}
	if !account.IsCommunityMember {
		s.log.Warn("voice token denied", zap.String("email", email))
		return "", ErrAccessRestricted
	}

	if s.cfg.ElevenAPIKey == "" || s.cfg.ElevenAgentID == "" {
		return "", ErrNotConfigured
	}

	now := s.clock.Now()
	s.mu.Lock()
	if s.cached != "" && now.Sub(s.fetchedAt) < cacheTTL {
		token := s.cached
		s.mu.Unlock()
		return token, nil
	}
	s.mu.Unlock()

	// Test keys short-circuit the upstream call so local stacks work
	// without provider credentials.
	if isDevKey(s.cfg.ElevenAPIKey) || isDevKey(s.cfg.ElevenAgentID) {
		s.storeToken("dev_local_token", now)
		s.log.Warn("serving dev voice token")
		return "dev_local_token", nil
	}

	token, err, _ := s.group.Do("token", func() (any, error) {
		fetched, err := s.fetch(ctx)
		if err != nil {
			return "", err
		}
		s.storeToken(fetched, s.clock.Now())
		return fetched, nil
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

func (s *Service) storeToken(token string, at time.Time) {
	s.mu.Lock()
	s.cached = token
	s.fetchedAt = at
	s.mu.Unlock()
}

func isDevKey(v string) bool {
	switch strings.ToLower(v) {
	case "dummy", "test":
		return true
	}
	return false
}

// candidateURLs lists the endpoints tried in order. The provider has
// moved this route more than once; a configured override always wins.
func (s *Service) candidateURLs() []string {
	urls := []string{
		s.cfg.ElevenTokenURL,
		"https://api.elevenlabs.io/v1/convai/conversations",
		"https://api.elevenlabs.io/v1/convai/conversation/token",
		"https://api.elevenlabs.io/v1/convai/conversation",
		"https://api.elevenlabs.io/v1/convai/conversations/create",
	}
	out := urls[:0]
	for _, u := range urls {
		if u != "" {
			out = append(out, u)
		}
	}
	return out
}

func (s *Service) fetch(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{"agent_id": s.cfg.ElevenAgentID})
	if err != nil {
		return "", err
	}

	var attempts []string
	for _, url := range s.candidateURLs() {
		for _, method := range []string{http.MethodPost, http.MethodGet} {
			token, err := s.tryEndpoint(ctx, method, url, body)
			if err == nil && token != "" {
				s.log.Info("voice token retrieved",
					zap.String("method", method),
					zap.String("url", url),
				)
				return token, nil
			}
			attempts = append(attempts, fmt.Sprintf("%s %s: %v", method, url, err))
		}
	}

	s.log.Error("all voice token endpoints failed", zap.Strings("attempts", attempts))
	return "", ErrUpstream
}

func (s *Service) tryEndpoint(ctx context.Context, method, url string, body []byte) (string, error) {
	var reqBody *bytes.Reader
	endpoint := url
	if method == http.MethodPost {
		reqBody = bytes.NewReader(body)
	} else {
		reqBody = bytes.NewReader(nil)
		endpoint = fmt.Sprintf("%s?agent_id=%s", url, s.cfg.ElevenAgentID)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", s.cfg.ElevenAPIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("non-json response: %w", err)
	}

	if token := extractToken(payload); token != "" {
		return token, nil
	}
	return "", errors.New("no token in payload")
}

// extractToken tolerates the response shapes the provider has used over
// time, including tokens nested one level down.
func extractToken(payload map[string]any) string {
	keys := []string{"token", "access_token", "conversation_token"}
	for _, key := range keys {
		if v, ok := payload[key].(string); ok && v != "" {
			return v
		}
	}
	for _, container := range []string{"conversation", "data", "result"} {
		if nested, ok := payload[container].(map[string]any); ok {
			for _, key := range keys {
				if v, ok := nested[key].(string); ok && v != "" {
					return v
				}
			}
		}
	}
	return ""
}

var Module = fx.Module("voicetoken.service",
	fx.Provide(New),
)
