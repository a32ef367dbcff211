package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ronitlabs/talktime/internal/ledger/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.UserAccount, error) {
	var account domain.UserAccount
	err := db.WithContext(ctx).
		Where("email = ?", email).
		First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, account *domain.UserAccount) error {
	return db.WithContext(ctx).Create(account).Error
}

func (r *repo) UpdateFields(ctx context.Context, db *gorm.DB, email string, fields map[string]any) error {
	return db.WithContext(ctx).
		Model(&domain.UserAccount{}).
		Where("email = ?", email).
		Updates(fields).Error
}

// AddTalkTime applies the delta in a single statement so the balance can
// never be written negative, whatever the caller passed.
func (r *repo) AddTalkTime(ctx context.Context, db *gorm.DB, email string, delta float64, now time.Time) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE user_accounts
		 SET talk_time_seconds = CASE
		     WHEN talk_time_seconds + ? < 0 THEN 0
		     ELSE talk_time_seconds + ?
		   END,
		   updated_at = ?
		 WHERE email = ?`,
		delta, delta, now, email,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ApplyRefill is a guarded update: the WHERE clause enforces both
// membership and the refill window, so redundant invocations are no-ops.
func (r *repo) ApplyRefill(ctx context.Context, db *gorm.DB, email string, bonus float64, cutoff, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE user_accounts
		 SET talk_time_seconds = talk_time_seconds + ?,
		   last_community_refill = ?,
		   updated_at = ?
		 WHERE email = ?
		   AND is_community_member = ?
		   AND (last_community_refill IS NULL OR last_community_refill <= ?)`,
		bonus, now, now, email, true, cutoff,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) IncrementSessions(ctx context.Context, db *gorm.DB, email string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE user_accounts
		 SET total_sessions = total_sessions + 1,
		   last_login = ?,
		   updated_at = ?
		 WHERE email = ?`,
		now, now, email,
	).Error
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, email string) error {
	return db.WithContext(ctx).
		Where("email = ?", email).
		Delete(&domain.UserAccount{}).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]domain.UserAccount, error) {
	var accounts []domain.UserAccount
	err := db.WithContext(ctx).
		Order("last_login desc").
		Find(&accounts).Error
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *repo) InsertSessionLog(ctx context.Context, db *gorm.DB, log *domain.SessionLog) error {
	return db.WithContext(ctx).Create(log).Error
}
