package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/ronitlabs/talktime/internal/clock"
	"github.com/ronitlabs/talktime/internal/config"
	ledgerdomain "github.com/ronitlabs/talktime/internal/ledger/domain"
	"github.com/ronitlabs/talktime/internal/payments/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultGatewayURL = "https://api.razorpay.com/v1"

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Cfg    config.Config
	Clock  clock.Clock
	GenID  *snowflake.Node
	Repo   domain.Repository
	Ledger ledgerdomain.Service
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        config.Config
	clock      clock.Clock
	genID      *snowflake.Node
	repo       domain.Repository
	ledger     ledgerdomain.Service
	client     *http.Client
	gatewayURL string
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payments.service"),
		cfg:        p.Cfg,
		clock:      p.Clock,
		genID:      p.GenID,
		repo:       p.Repo,
		ledger:     p.Ledger,
		client:     &http.Client{Timeout: 15 * time.Second},
		gatewayURL: defaultGatewayURL,
	}
}

type gatewayOrderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type gatewayOrderResponse struct {
	ID    string `json:"id"`
	Error struct {
		Description string `json:"description"`
	} `json:"error"`
}

func (s *Service) CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	if s.cfg.RazorpayKeyID == "" || s.cfg.RazorpayKeySecret == "" {
		return nil, domain.ErrNotConfigured
	}

	amount := req.AmountPaisa
	if amount <= 0 {
		amount = s.cfg.RazorpayAmountPaisa
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.cfg.RazorpayCurrency
	}
	receipt := "talktime_" + uuid.NewString()[:13]

	body, err := json.Marshal(gatewayOrderRequest{
		Amount:   amount,
		Currency: currency,
		Receipt:  receipt,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.gatewayURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.SetBasicAuth(s.cfg.RazorpayKeyID, s.cfg.RazorpayKeySecret)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayFailure, err)
	}
	defer resp.Body.Close()

	var order gatewayOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayFailure, err)
	}
	if resp.StatusCode != http.StatusOK || order.ID == "" {
		s.log.Error("order creation rejected by gateway",
			zap.Int("status", resp.StatusCode),
			zap.String("description", order.Error.Description),
		)
		return nil, domain.ErrGatewayFailure
	}

	s.log.Info("payment order created",
		zap.String("order_id", order.ID),
		zap.String("receipt", receipt),
		zap.Int64("amount_paisa", amount),
	)
	return &domain.Order{
		OrderID:  order.ID,
		Amount:   amount,
		Currency: currency,
		KeyID:    s.cfg.RazorpayKeyID,
	}, nil
}

// VerifySignature checks the checkout callback signature: HMAC-SHA256 of
// "<order_id>|<payment_id>" keyed with the gateway secret.
func (s *Service) VerifySignature(orderID, paymentID, signature string) bool {
	mac := hmac.New(sha256.New, []byte(s.cfg.RazorpayKeySecret))
	fmt.Fprintf(mac, "%s|%s", orderID, paymentID)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (s *Service) VerifyAndCredit(ctx context.Context, email string, req domain.VerifyRequest) (*domain.VerifyResult, error) {
	if s.cfg.RazorpayKeySecret == "" {
		return nil, domain.ErrNotConfigured
	}
	if req.OrderID == "" || req.PaymentID == "" || req.Signature == "" {
		return nil, domain.ErrMissingDetails
	}

	processed, err := s.repo.Exists(ctx, s.db, req.OrderID)
	if err != nil {
		return nil, err
	}
	if processed {
		s.log.Warn("replayed payment verification",
			zap.String("email", email),
			zap.String("order_id", req.OrderID),
		)
		return nil, domain.ErrAlreadyProcessed
	}

	if !s.VerifySignature(req.OrderID, req.PaymentID, req.Signature) {
		s.log.Warn("invalid payment signature",
			zap.String("email", email),
			zap.String("order_id", req.OrderID),
		)
		return nil, domain.ErrInvalidSignature
	}

	grant := s.cfg.PaymentGrantSeconds

	// The unique index on order_id makes the insert the real replay
	// barrier; the Exists check above is just the polite fast path.
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.repo.Insert(ctx, tx, &domain.Transaction{
			ID:            s.genID.Generate().Int64(),
			Email:         email,
			OrderID:       req.OrderID,
			PaymentID:     req.PaymentID,
			AmountSeconds: grant,
			CreatedAt:     s.clock.Now(),
		})
	})
	if err != nil {
		return nil, domain.ErrAlreadyProcessed
	}

	newBalance, err := s.ledger.AddTalkTime(ctx, email, grant)
	if err != nil {
		return nil, err
	}

	s.log.Info("payment credited",
		zap.String("email", email),
		zap.String("order_id", req.OrderID),
		zap.Float64("granted_seconds", grant),
	)
	return &domain.VerifyResult{NewTalkTimeSeconds: newBalance}, nil
}
