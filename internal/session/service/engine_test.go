package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"github.com/ronitlabs/talktime/internal/clock"
	"github.com/ronitlabs/talktime/internal/config"
	ledgerdomain "github.com/ronitlabs/talktime/internal/ledger/domain"
	"github.com/ronitlabs/talktime/internal/ledger/repository"
	ledgerservice "github.com/ronitlabs/talktime/internal/ledger/service"
	"github.com/ronitlabs/talktime/internal/observability/metrics"
	"github.com/ronitlabs/talktime/internal/session/domain"
	sessionservice "github.com/ronitlabs/talktime/internal/session/service"
	"github.com/ronitlabs/talktime/internal/session/store"
	"github.com/ronitlabs/talktime/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type fixture struct {
	engine domain.Service
	ledger ledgerdomain.Service
	clock  *clock.FakeClock
	db     *gorm.DB
	redis  *miniredis.Miniredis
	cfg    config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	gdb, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&ledgerdomain.UserAccount{}, &ledgerdomain.SessionLog{}))

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	fake := clock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := config.Config{
		WelcomeBonusSeconds: 180,
		Metering: config.MeteringConfig{
			MaxHeartbeatGap:  10 * time.Second,
			MinBillableDelta: time.Second,
			FlushCap:         15 * time.Second,
			SlotTTL:          time.Hour,
			LockTTL:          5 * time.Second,
			RefillBonus:      900,
			RefillInterval:   30 * 24 * time.Hour,
		},
	}

	log := zaptest.NewLogger(t)
	ledgerSvc := ledgerservice.New(ledgerservice.Params{
		DB:    gdb,
		Log:   log,
		Clock: fake,
		Cfg:   cfg,
		GenID: node,
		Repo:  repository.Provide(),
	})

	engine := sessionservice.New(sessionservice.Params{
		Log:     log,
		Clock:   fake,
		Policy:  sessionservice.NewPolicy(cfg),
		Store:   store.NewRedisStore(client),
		Locker:  store.NewRedisLocker(client),
		Ledger:  ledgerSvc,
		Metrics: metrics.New(),
	})

	return &fixture{
		engine: engine,
		ledger: ledgerSvc,
		clock:  fake,
		db:     gdb,
		redis:  mr,
		cfg:    cfg,
	}
}

func (f *fixture) seed(t *testing.T, email string, balance float64, member bool) {
	t.Helper()
	now := f.clock.Now()
	require.NoError(t, f.db.Create(&ledgerdomain.UserAccount{
		Email:             email,
		Name:              "Test User",
		TalkTimeSeconds:   balance,
		IsCommunityMember: member,
		CreatedAt:         now,
		UpdatedAt:         now,
	}).Error)
}

func (f *fixture) balance(t *testing.T, email string) float64 {
	t.Helper()
	account, err := f.ledger.Get(context.Background(), email)
	require.NoError(t, err)
	return account.TalkTimeSeconds
}

func TestCheckIn_RequiresCommunityMembership(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "alice@example.com", 100, false)

	_, err := f.engine.CheckIn(context.Background(), "alice@example.com")
	require.ErrorIs(t, err, domain.ErrNotCommunityMember)
}

func TestCheckIn_RequiresPositiveBalance(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "alice@example.com", 0, true)

	_, err := f.engine.CheckIn(context.Background(), "alice@example.com")
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
}

func TestCheckIn_UnknownUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.CheckIn(context.Background(), "nobody@example.com")
	require.ErrorIs(t, err, ledgerdomain.ErrNotFound)
}

func TestCheckIn_OpensSlotWithoutCharging(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "alice@example.com", 100, true)

	res, err := f.engine.CheckIn(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Len(t, res.SessionID, 8)
	assert.Equal(t, float64(100), res.RemainingSeconds)
	assert.Equal(t, float64(100), f.balance(t, "alice@example.com"))

	assert.True(t, f.redis.Exists("session:alice@example.com"))
	assert.Equal(t, time.Hour, f.redis.TTL("session:alice@example.com"))
}

func TestCheckIn_SupersedesPreviousSlot(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "alice@example.com", 100, true)
	ctx := context.Background()

	first, err := f.engine.CheckIn(ctx, "alice@example.com")
	require.NoError(t, err)
	second, err := f.engine.CheckIn(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, second.SessionID)
}

func TestHeartbeat_NoActiveSession(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "alice@example.com", 100, true)

	_, err := f.engine.Heartbeat(context.Background(), "alice@example.com")
	require.ErrorIs(t, err, domain.ErrNoActiveSession)
}

func TestHeartbeat_DeductsElapsedTime(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "alice@example.com", 100, true)
	ctx := context.Background()

	_, err := f.engine.CheckIn(ctx, "alice@example.com")
	require.NoError(t, err)

	// Three beats at 5s intervals charge exactly 15 seconds.
	want := 100.0
	for i := 0; i < 3; i++ {
		f.clock.Advance(5 * time.Second)
		res, err := f.engine.Heartbeat(ctx, "alice@example.com")
		require.NoError(t, err)
		want -= 5
		assert.True(t, res.OK)
		assert.False(t, res.Terminated)
		assert.Equal(t, float64(5), res.Deducted)
		assert.Equal(t, want, res.RemainingSeconds)
	}
	assert.Equal(t, float64(85), f.balance(t, "alice@example.com"))
}

func TestHeartbeat_SubSecondDeltaIsFree(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "alice@example.com", 100, true)
	ctx := context.Background()

	_, err := f.engine.CheckIn(ctx, "alice@example.com")
	require.NoError(t, err)

	// However many bursty duplicates arrive, none of them bills.
	for i := 0; i < 5; i++ {
		f.clock.Advance(100 * time.Millisecond)
		res, err := f.engine.Heartbeat(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.True(t, res.OK)
		assert.Zero(t, res.Deducted)
		assert.Equal(t, float64(100), res.RemainingSeconds)
	}
	assert.Equal(t, float64(100), f.balance(t, "alice@example.com"))
}

func TestHeartbeat_SubFloorKeepsAnchor(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "alice@example.com", 100, true)
	ctx := context.Background()

	_, err := f.engine.CheckIn(ctx, "alice@example.com")
	require.NoError(t, err)

	// The free beat must not advance last_heartbeat, otherwise the
	// accumulated time before it would never be billed.
	f.clock.Advance(500 * time.Millisecond)
	_, err = f.engine.Heartbeat(ctx, "alice@example.com")
	require.NoError(t, err)

	f.clock.Advance(600 * time.Millisecond)
	res, err := f.engine.Heartbeat(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.InDelta(t, 1.1, res.Deducted, 0.001)
}

func TestHeartbeat_NegativeDeltaIsFree(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "alice@example.com", 100, true)
	ctx := context.Background()

	_, err := f.engine.CheckIn(ctx, "alice@example.com")
	require.NoError(t, err)

	f.clock.Advance(-2 * time.Second)
	res, err := f.engine.Heartbeat(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Zero(t, res.Deducted)
	assert.Equal(t, float64(100), f.balance(t, "alice@example.com"))
}

func TestHeartbeat_GapTimeoutChargesCappedWindow(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "alice@example.com", 100, true)
	ctx := context.Background()

	_, err := f.engine.CheckIn(ctx, "alice@example.com")
	require.NoError(t, err)

	// A minute of silence charges only the 10s tolerance window.
	f.clock.Advance(time.Minute)
	res, err := f.engine.Heartbeat(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.True(t, res.Terminated)
	assert.Equal(t, domain.ReasonGapTimeout, res.Reason)
	assert.Equal(t, float64(10), res.Deducted)
	assert.Equal(t, float64(90), res.RemainingSeconds)
	assert.Equal(t, float64(90), f.balance(t, "alice@example.com"))

	// Termination is final: the slot is gone.
	_, err = f.engine.Heartbeat(ctx, "alice@example.com")
	require.ErrorIs(t, err, domain.ErrNoActiveSession)
}

func TestHeartbeat_GapTimeoutClampsToBalance(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "alice@example.com", 4, true)
	ctx := context.Background()

	_, err := f.engine.CheckIn(ctx, "alice@example.com")
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	res, err := f.engine.Heartbeat(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, res.Terminated)
	assert.Equal(t, float64(4), res.Deducted)
	assert.Zero(t, res.RemainingSeconds)
	assert.Zero(t, f.balance(t, "alice@example.com"))
}

func TestHeartbeat_ExhaustionTerminates(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "alice@example.com", 12, true)
	ctx := context.Background()

	_, err := f.engine.CheckIn(ctx, "alice@example.com")
	require.NoError(t, err)

	f.clock.Advance(5 * time.Second)
	res, err := f.engine.Heartbeat(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, float64(7), res.RemainingSeconds)

	// The next beat wants 8 seconds but only 7 remain.
	f.clock.Advance(8 * time.Second)
	res, err = f.engine.Heartbeat(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.True(t, res.Terminated)
	assert.Equal(t, domain.ReasonExhausted, res.Reason)
	assert.Equal(t, float64(7), res.Deducted)
	assert.Zero(t, res.RemainingSeconds)
	assert.Zero(t, f.balance(t, "alice@example.com"))

	_, err = f.engine.Heartbeat(ctx, "alice@example.com")
	require.ErrorIs(t, err, domain.ErrNoActiveSession)
}

func TestHeartbeat_LockContentionIsFreeNoop(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "alice@example.com", 100, true)
	ctx := context.Background()

	_, err := f.engine.CheckIn(ctx, "alice@example.com")
	require.NoError(t, err)

	require.NoError(t, f.redis.Set("lock:alice@example.com", "held-elsewhere"))

	f.clock.Advance(5 * time.Second)
	res, err := f.engine.Heartbeat(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "locked", res.Note)
	assert.Zero(t, res.Deducted)
	assert.Equal(t, float64(100), f.balance(t, "alice@example.com"))

	// The held lock stays held.
	assert.True(t, f.redis.Exists("lock:alice@example.com"))
}

func TestHeartbeat_ReleasesLock(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "alice@example.com", 100, true)
	ctx := context.Background()

	_, err := f.engine.CheckIn(ctx, "alice@example.com")
	require.NoError(t, err)

	f.clock.Advance(5 * time.Second)
	_, err = f.engine.Heartbeat(ctx, "alice@example.com")
	require.NoError(t, err)

	assert.False(t, f.redis.Exists("lock:alice@example.com"))
}

func TestHeartbeat_RefreshesSlotTTL(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "alice@example.com", 100, true)
	ctx := context.Background()

	_, err := f.engine.CheckIn(ctx, "alice@example.com")
	require.NoError(t, err)

	f.redis.SetTTL("session:alice@example.com", time.Minute)
	f.clock.Advance(5 * time.Second)
	_, err = f.engine.Heartbeat(ctx, "alice@example.com")
	require.NoError(t, err)

	assert.Equal(t, time.Hour, f.redis.TTL("session:alice@example.com"))
}

func TestEnd_FlushIsCapped(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "alice@example.com", 100, true)
	ctx := context.Background()

	_, err := f.engine.CheckIn(ctx, "alice@example.com")
	require.NoError(t, err)

	// An hour of stranded time settles at the 15s flush cap.
	f.clock.Advance(time.Hour)
	require.NoError(t, f.engine.End(ctx, "alice@example.com"))
	assert.Equal(t, float64(85), f.balance(t, "alice@example.com"))
	assert.False(t, f.redis.Exists("session:alice@example.com"))

	// Idempotent once the slot is gone.
	require.NoError(t, f.engine.End(ctx, "alice@example.com"))
	assert.Equal(t, float64(85), f.balance(t, "alice@example.com"))
}

func TestEnd_FlushesShortTailExactly(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "alice@example.com", 100, true)
	ctx := context.Background()

	_, err := f.engine.CheckIn(ctx, "alice@example.com")
	require.NoError(t, err)

	f.clock.Advance(3 * time.Second)
	require.NoError(t, f.engine.End(ctx, "alice@example.com"))
	assert.Equal(t, float64(97), f.balance(t, "alice@example.com"))
}

func TestEnd_WithoutSessionIsNoop(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "alice@example.com", 100, true)

	require.NoError(t, f.engine.End(context.Background(), "alice@example.com"))
	assert.Equal(t, float64(100), f.balance(t, "alice@example.com"))
}

func TestBalance_FlushesBeforeReading(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "alice@example.com", 100, true)
	ctx := context.Background()

	_, err := f.engine.CheckIn(ctx, "alice@example.com")
	require.NoError(t, err)

	// A balance read mid-session settles the stranded tail first so the
	// client never sees more time than it actually has.
	f.clock.Advance(7 * time.Second)
	res, err := f.engine.BalanceWithReconciliation(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, float64(93), res.TalkTimeSeconds)
	assert.False(t, f.redis.Exists("session:alice@example.com"))
}

func TestBalance_AppliesMonthlyRefill(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "alice@example.com", 10, true)
	ctx := context.Background()

	refillAt := f.clock.Now().Add(-31 * 24 * time.Hour)
	require.NoError(t, f.db.Model(&ledgerdomain.UserAccount{}).
		Where("email = ?", "alice@example.com").
		Update("last_community_refill", refillAt).Error)

	res, err := f.engine.BalanceWithReconciliation(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, res.Refilled)
	assert.Equal(t, float64(910), res.TalkTimeSeconds)

	// Immediately asking again must not double-credit.
	res, err = f.engine.BalanceWithReconciliation(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.False(t, res.Refilled)
	assert.Equal(t, float64(910), res.TalkTimeSeconds)
}

func TestBalance_FirstRefillForNewMember(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "alice@example.com", 10, true)
	ctx := context.Background()

	// A member who never refilled gets one on first contact.
	res, err := f.engine.BalanceWithReconciliation(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, res.Refilled)
	assert.Equal(t, float64(910), res.TalkTimeSeconds)
}

func TestBalance_NoRefillForNonMembers(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "bob@example.com", 10, false)

	res, err := f.engine.BalanceWithReconciliation(context.Background(), "bob@example.com")
	require.NoError(t, err)
	assert.False(t, res.Refilled)
	assert.False(t, res.IsCommunityMember)
	assert.Equal(t, float64(10), res.TalkTimeSeconds)
}

func TestBalance_RefillSpacing(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "alice@example.com", 0, true)
	ctx := context.Background()

	res, err := f.engine.BalanceWithReconciliation(ctx, "alice@example.com")
	require.NoError(t, err)
	require.True(t, res.Refilled)

	// 29 days later: still inside the window.
	f.clock.Advance(29 * 24 * time.Hour)
	res, err = f.engine.BalanceWithReconciliation(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.False(t, res.Refilled)

	// Crossing the 30-day mark re-arms it.
	f.clock.Advance(2 * 24 * time.Hour)
	res, err = f.engine.BalanceWithReconciliation(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, res.Refilled)
	assert.Equal(t, float64(1800), res.TalkTimeSeconds)
}

func TestBalanceNeverNegative(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "alice@example.com", 2, true)
	ctx := context.Background()

	_, err := f.engine.CheckIn(ctx, "alice@example.com")
	require.NoError(t, err)

	f.clock.Advance(8 * time.Second)
	res, err := f.engine.Heartbeat(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.True(t, res.Terminated)
	assert.Zero(t, res.RemainingSeconds)
	assert.GreaterOrEqual(t, f.balance(t, "alice@example.com"), float64(0))
}
