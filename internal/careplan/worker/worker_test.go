package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/ronitlabs/talktime/internal/careplan/domain"
	"github.com/ronitlabs/talktime/internal/careplan/repository"
	"github.com/ronitlabs/talktime/internal/careplan/service"
	"github.com/ronitlabs/talktime/internal/clock"
	"github.com/ronitlabs/talktime/internal/config"
	ledgerdomain "github.com/ronitlabs/talktime/internal/ledger/domain"
	ledgerrepo "github.com/ronitlabs/talktime/internal/ledger/repository"
	ledgerservice "github.com/ronitlabs/talktime/internal/ledger/service"
	"github.com/ronitlabs/talktime/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type fakeEmail struct {
	mu    sync.Mutex
	sends []string
}

func (f *fakeEmail) Send(ctx context.Context, to, subject, htmlBody string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, to)
	return nil
}

func newTestWorker(t *testing.T) (*Worker, domain.Service, *gorm.DB, *fakeEmail) {
	t.Helper()

	gdb, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(
		&domain.Task{},
		&domain.Blueprint{},
		&ledgerdomain.UserAccount{},
		&ledgerdomain.SessionLog{},
	))

	require.NoError(t, gdb.Create(&ledgerdomain.UserAccount{
		Email:             "alice@example.com",
		IsCommunityMember: true,
	}).Error)

	fake := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := config.Config{GeminiModel: "gemini-2.0-flash"}
	log := zaptest.NewLogger(t)
	repo := repository.Provide()

	ledgerSvc := ledgerservice.New(ledgerservice.Params{
		DB:    gdb,
		Log:   log,
		Clock: fake,
		Cfg:   cfg,
		GenID: node,
		Repo:  ledgerrepo.Provide(),
	})
	careplanSvc := service.New(service.Params{
		DB:    gdb,
		Log:   log,
		Cfg:   cfg,
		Clock: fake,
		GenID: node,
		Repo:  repo,
	})

	mail := &fakeEmail{}
	w := New(Params{
		DB:     gdb,
		Log:    log,
		Clock:  fake,
		Repo:   repo,
		Gemini: service.NewGemini(cfg, log),
		Ledger: ledgerSvc,
		Email:  mail,
	})
	return w, careplanSvc, gdb, mail
}

func TestProcessOne_EmptyQueue(t *testing.T) {
	w, _, _, _ := newTestWorker(t)

	processed, err := w.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestProcessOne_GeneratesBlueprint(t *testing.T) {
	w, svc, gdb, mail := newTestWorker(t)
	ctx := context.Background()

	transcript := "coach: how did the week go? client: I kept the morning routine going for five days."
	res, err := svc.Enqueue(ctx, "alice@example.com", transcript, "https://coach.example.com")
	require.NoError(t, err)

	processed, err := w.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	// Without a Gemini key the worker falls back to the templated plan.
	bp, err := svc.GetBlueprint(ctx, res.BlueprintID)
	require.NoError(t, err)
	assert.Contains(t, bp.Content, "# Personalized Care Plan")
	assert.Equal(t, "alice@example.com", bp.Email)
	assert.Equal(t, transcript, bp.Transcript)

	var task domain.Task
	require.NoError(t, gdb.First(&task).Error)
	assert.Equal(t, domain.StatusCompleted, task.Status)
	require.NotNil(t, task.StartedAt)
	require.NotNil(t, task.CompletedAt)

	// Session stats recorded against the account.
	var account ledgerdomain.UserAccount
	require.NoError(t, gdb.First(&account, "email = ?", "alice@example.com").Error)
	assert.Equal(t, int64(1), account.TotalSessions)

	var sessionLog ledgerdomain.SessionLog
	require.NoError(t, gdb.First(&sessionLog).Error)
	assert.Equal(t, int64(len(transcript)), sessionLog.TranscriptLength)

	assert.Equal(t, []string{"alice@example.com"}, mail.sends)
}

func TestProcessOne_TaskProcessedExactlyOnce(t *testing.T) {
	w, svc, _, mail := newTestWorker(t)
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, "alice@example.com", "a transcript long enough to pass validation", "https://coach.example.com")
	require.NoError(t, err)

	processed, err := w.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	// The queue is now empty; the same task is never claimed twice.
	processed, err = w.ProcessOne(ctx)
	require.NoError(t, err)
	assert.False(t, processed)
	assert.Len(t, mail.sends, 1)
}

func TestProcessOne_MarksBadPayloadFailed(t *testing.T) {
	w, _, gdb, _ := newTestWorker(t)
	ctx := context.Background()

	require.NoError(t, gdb.Create(&domain.Task{
		ID:        42,
		Type:      domain.TypeGenerateCarePlan,
		Payload:   "{corrupt",
		Status:    domain.StatusPending,
		CreatedAt: time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC),
	}).Error)

	processed, err := w.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	var task domain.Task
	require.NoError(t, gdb.First(&task, "id = ?", 42).Error)
	assert.Equal(t, domain.StatusFailed, task.Status)
	assert.Contains(t, task.Error, "decode payload")
}

func TestProcessOne_UnknownTypeFails(t *testing.T) {
	w, _, gdb, _ := newTestWorker(t)

	require.NoError(t, gdb.Create(&domain.Task{
		ID:        7,
		Type:      "send_newsletter",
		Payload:   "{}",
		Status:    domain.StatusPending,
		CreatedAt: time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC),
	}).Error)

	processed, err := w.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	var task domain.Task
	require.NoError(t, gdb.First(&task, "id = ?", 7).Error)
	assert.Equal(t, domain.StatusFailed, task.Status)
}
