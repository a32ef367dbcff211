package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ronitlabs/talktime/internal/careplan/domain"
	"github.com/ronitlabs/talktime/internal/careplan/service"
	"github.com/ronitlabs/talktime/internal/clock"
	ledgerdomain "github.com/ronitlabs/talktime/internal/ledger/domain"
	"github.com/ronitlabs/talktime/internal/providers/email"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	idleSleep  = 2 * time.Second
	errorSleep = 5 * time.Second
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Repo   domain.Repository
	Gemini *service.GeminiClient
	Ledger ledgerdomain.Service
	Email  email.Provider
}

// Worker drains the care-plan task queue. Any number of replicas can run
// concurrently; the claim query guarantees each task is processed once.
type Worker struct {
	db     *gorm.DB
	log    *zap.Logger
	clock  clock.Clock
	repo   domain.Repository
	gemini *service.GeminiClient
	ledger ledgerdomain.Service
	email  email.Provider
}

func New(p Params) *Worker {
	return &Worker{
		db:     p.DB,
		log:    p.Log.Named("careplan.worker"),
		clock:  p.Clock,
		repo:   p.Repo,
		gemini: p.Gemini,
		ledger: p.Ledger,
		email:  p.Email,
	}
}

// Run polls until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("worker started")
	for {
		processed, err := w.ProcessOne(ctx)

		sleep := time.Duration(0)
		switch {
		case err != nil:
			w.log.Error("worker loop error", zap.Error(err))
			sleep = errorSleep
		case !processed:
			sleep = idleSleep
		}

		if sleep > 0 {
			select {
			case <-ctx.Done():
				w.log.Info("worker stopped")
				return
			case <-time.After(sleep):
			}
		} else if ctx.Err() != nil {
			w.log.Info("worker stopped")
			return
		}
	}
}

// ProcessOne claims and executes a single task. Returns false when the
// queue is empty.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.repo.ClaimNextTask(ctx, w.db, w.clock.Now())
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	log := w.log.With(zap.Int64("task_id", task.ID), zap.String("type", task.Type))
	log.Info("processing task")

	if err := w.execute(ctx, task); err != nil {
		log.Error("task failed", zap.Error(err))
		if failErr := w.repo.FailTask(ctx, w.db, task.ID, err.Error(), w.clock.Now()); failErr != nil {
			log.Error("failed to mark task failed", zap.Error(failErr))
		}
		return true, nil
	}

	if err := w.repo.CompleteTask(ctx, w.db, task.ID, w.clock.Now()); err != nil {
		log.Error("failed to mark task completed", zap.Error(err))
	}
	log.Info("task completed")
	return true, nil
}

func (w *Worker) execute(ctx context.Context, task *domain.Task) error {
	if task.Type != domain.TypeGenerateCarePlan {
		return fmt.Errorf("unknown task type %q", task.Type)
	}

	var payload domain.TaskPayload
	if err := json.Unmarshal([]byte(task.Payload), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	plan := w.gemini.Generate(ctx, payload.Transcript)

	if err := w.repo.UpsertBlueprint(ctx, w.db, &domain.Blueprint{
		ID:         payload.BlueprintID,
		Email:      payload.Email,
		SessionID:  payload.SessionID,
		Content:    plan,
		Transcript: payload.Transcript,
		CreatedAt:  w.clock.Now(),
	}); err != nil {
		return fmt.Errorf("save blueprint: %w", err)
	}

	// Session stats are best effort; a failed write must not fail the
	// plan the user paid talk time for.
	if err := w.ledger.RecordSession(ctx, ledgerdomain.SessionLog{
		Email:            payload.Email,
		SessionID:        payload.SessionID,
		DurationSeconds:  int64(len(payload.Transcript) / 100),
		TranscriptLength: int64(len(payload.Transcript)),
	}); err != nil {
		w.log.Warn("failed to record session stats",
			zap.String("email", payload.Email),
			zap.Error(err),
		)
	}

	link := strings.TrimRight(payload.HostURL, "/") + "/blueprint/" + payload.BlueprintID
	body, err := email.CarePlanBody(plan, link)
	if err != nil {
		return fmt.Errorf("render email: %w", err)
	}
	if err := w.email.Send(ctx, payload.Email, "Your Personalized Care Plan is Ready", body); err != nil {
		w.log.Warn("failed to send care plan email",
			zap.String("email", payload.Email),
			zap.Error(err),
		)
	}
	return nil
}
