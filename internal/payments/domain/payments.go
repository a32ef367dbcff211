package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Transaction records a settled payment. OrderID is unique so a captured
// order can never be credited twice, even under concurrent verification.
type Transaction struct {
	ID            int64     `json:"id" gorm:"primaryKey"`
	Email         string    `json:"email" gorm:"index"`
	OrderID       string    `json:"order_id" gorm:"uniqueIndex"`
	PaymentID     string    `json:"payment_id"`
	AmountSeconds float64   `json:"amount_seconds"`
	CreatedAt     time.Time `json:"created_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}

type OrderRequest struct {
	AmountPaisa int64
	Currency    string
}

// Order is what the browser needs to open the Razorpay checkout.
type Order struct {
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	KeyID    string `json:"key_id"`
}

type VerifyRequest struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}

type VerifyResult struct {
	NewTalkTimeSeconds float64 `json:"new_talktime"`
}

type Service interface {
	// CreateOrder registers a checkout order with the payment gateway.
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)

	// VerifyAndCredit validates the gateway signature, guards against
	// replays, and credits the purchased talk time.
	VerifyAndCredit(ctx context.Context, email string, req VerifyRequest) (*VerifyResult, error)
}

type Repository interface {
	Exists(ctx context.Context, db *gorm.DB, orderID string) (bool, error)
	Insert(ctx context.Context, db *gorm.DB, txn *Transaction) error
	ListByEmail(ctx context.Context, db *gorm.DB, email string) ([]Transaction, error)
}

var (
	ErrNotConfigured    = errors.New("payments_not_configured")
	ErrMissingDetails   = errors.New("missing_payment_details")
	ErrInvalidSignature = errors.New("invalid_payment_signature")
	ErrAlreadyProcessed = errors.New("transaction_already_processed")
	ErrGatewayFailure   = errors.New("payment_gateway_failure")
)
