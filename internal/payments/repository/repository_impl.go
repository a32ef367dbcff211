package repository

import (
	"context"

	"github.com/ronitlabs/talktime/internal/payments/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Exists(ctx context.Context, db *gorm.DB, orderID string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.Transaction{}).
		Where("order_id = ?", orderID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, txn *domain.Transaction) error {
	return db.WithContext(ctx).Create(txn).Error
}

func (r *repo) ListByEmail(ctx context.Context, db *gorm.DB, email string) ([]domain.Transaction, error) {
	var txns []domain.Transaction
	err := db.WithContext(ctx).
		Where("email = ?", email).
		Order("created_at desc").
		Find(&txns).Error
	if err != nil {
		return nil, err
	}
	return txns, nil
}
