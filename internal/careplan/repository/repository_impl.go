package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ronitlabs/talktime/internal/careplan/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertTask(ctx context.Context, db *gorm.DB, task *domain.Task) error {
	return db.WithContext(ctx).Create(task).Error
}

// ClaimNextTask picks the oldest pending task and flips it to processing
// in one transaction. The guarded UPDATE makes the claim exclusive: if a
// concurrent worker got there first, RowsAffected is zero and we report
// an empty queue rather than double-processing.
func (r *repo) ClaimNextTask(ctx context.Context, db *gorm.DB, now time.Time) (*domain.Task, error) {
	var claimed *domain.Task
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var task domain.Task
		err := tx.Where("status = ?", domain.StatusPending).
			Order("created_at asc").
			First(&task).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		res := tx.Model(&domain.Task{}).
			Where("id = ? AND status = ?", task.ID, domain.StatusPending).
			Updates(map[string]any{
				"status":     domain.StatusProcessing,
				"started_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		task.Status = domain.StatusProcessing
		task.StartedAt = &now
		claimed = &task
		return nil
	})
	return claimed, err
}

func (r *repo) CompleteTask(ctx context.Context, db *gorm.DB, id int64, now time.Time) error {
	return db.WithContext(ctx).Model(&domain.Task{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       domain.StatusCompleted,
			"completed_at": now,
		}).Error
}

func (r *repo) FailTask(ctx context.Context, db *gorm.DB, id int64, taskErr string, now time.Time) error {
	return db.WithContext(ctx).Model(&domain.Task{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       domain.StatusFailed,
			"error":        taskErr,
			"completed_at": now,
		}).Error
}

func (r *repo) UpsertBlueprint(ctx context.Context, db *gorm.DB, bp *domain.Blueprint) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(bp).Error
}

func (r *repo) FindBlueprint(ctx context.Context, db *gorm.DB, id string) (*domain.Blueprint, error) {
	var bp domain.Blueprint
	err := db.WithContext(ctx).
		Where("id = ?", id).
		First(&bp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &bp, nil
}
