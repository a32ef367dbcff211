package domain

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type CreateAccountRequest struct {
	Email           string
	Name            string
	PasswordHash    *string
	WelcomeBonus    float64
	CommunityMember bool
}

type Service interface {
	Get(ctx context.Context, email string) (*UserAccount, error)
	Create(ctx context.Context, req CreateAccountRequest) (*UserAccount, error)
	List(ctx context.Context) ([]UserAccount, error)
	Delete(ctx context.Context, email string) error

	// AddTalkTime credits or debits the balance; the result is clamped to
	// zero and the new balance is returned.
	AddTalkTime(ctx context.Context, email string, delta float64) (float64, error)
	SetTalkTime(ctx context.Context, email string, amount float64) error

	// MaybeRefill applies the monthly community bonus at most once per
	// rolling window. Safe to call redundantly.
	MaybeRefill(ctx context.Context, email string) (bool, error)

	SetCommunityMember(ctx context.Context, email string, member bool) error
	RecordLogin(ctx context.Context, email string) error
	MarkSessionActive(ctx context.Context, email string, at time.Time) error
	RecordSession(ctx context.Context, log SessionLog) error
	ResetAccount(ctx context.Context, email string, resetTalkTime, resetSessions bool) error
	Stats(ctx context.Context) (Stats, error)
}

type Repository interface {
	FindByEmail(ctx context.Context, db *gorm.DB, email string) (*UserAccount, error)
	Insert(ctx context.Context, db *gorm.DB, account *UserAccount) error
	UpdateFields(ctx context.Context, db *gorm.DB, email string, fields map[string]any) error
	AddTalkTime(ctx context.Context, db *gorm.DB, email string, delta float64, now time.Time) error
	ApplyRefill(ctx context.Context, db *gorm.DB, email string, bonus float64, cutoff, now time.Time) (bool, error)
	IncrementSessions(ctx context.Context, db *gorm.DB, email string, now time.Time) error
	Delete(ctx context.Context, db *gorm.DB, email string) error
	List(ctx context.Context, db *gorm.DB) ([]UserAccount, error)
	InsertSessionLog(ctx context.Context, db *gorm.DB, log *SessionLog) error
}

var (
	ErrNotFound     = errors.New("account_not_found")
	ErrInvalidEmail = errors.New("invalid_email")
	ErrUserExists   = errors.New("user_exists")
)
