package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/ronitlabs/talktime/internal/clock"
	"github.com/ronitlabs/talktime/internal/config"
	ledgerdomain "github.com/ronitlabs/talktime/internal/ledger/domain"
	"github.com/ronitlabs/talktime/internal/observability/metrics"
	"github.com/ronitlabs/talktime/internal/session/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	Clock   clock.Clock
	Policy  domain.Policy
	Store   domain.Store
	Locker  domain.Locker
	Ledger  ledgerdomain.Service
	Metrics *metrics.Metering
}

// Engine implements the talk-time session lifecycle: check-in, heartbeat
// deduction, termination, and flush reconciliation. The heartbeat slot
// lives in Redis, the balance in the ledger; there is no transaction
// spanning both. Charges are derived from elapsed wall-clock time and
// capped per call, so a crash between the two writes loses at most one
// bounded interval.
type Engine struct {
	log     *zap.Logger
	clock   clock.Clock
	policy  domain.Policy
	store   domain.Store
	locker  domain.Locker
	ledger  ledgerdomain.Service
	metrics *metrics.Metering
}

func New(p Params) domain.Service {
	return &Engine{
		log:     p.Log.Named("session.engine"),
		clock:   p.Clock,
		policy:  p.Policy,
		store:   p.Store,
		locker:  p.Locker,
		ledger:  p.Ledger,
		metrics: p.Metrics,
	}
}

// NewPolicy builds the metering policy from configuration.
func NewPolicy(cfg config.Config) domain.Policy {
	return domain.Policy{
		MaxHeartbeatGap:  cfg.Metering.MaxHeartbeatGap,
		MinBillableDelta: cfg.Metering.MinBillableDelta,
		FlushCap:         cfg.Metering.FlushCap,
		SlotTTL:          cfg.Metering.SlotTTL,
		LockTTL:          cfg.Metering.LockTTL,
	}
}

func (e *Engine) CheckIn(ctx context.Context, email string) (domain.CheckInResult, error) {
	account, err := e.ledger.Get(ctx, email)
	if err != nil {
		return domain.CheckInResult{}, err
	}
	if !account.IsCommunityMember {
		return domain.CheckInResult{}, domain.ErrNotCommunityMember
	}
	if account.TalkTimeSeconds <= 0 {
		return domain.CheckInResult{}, domain.ErrInsufficientFunds
	}

	now := e.clock.Now()
	slot := domain.Slot{
		SessionID:     uuid.NewString()[:8],
		LastHeartbeat: now,
	}
	if err := e.store.PutSlot(ctx, account.Email, slot, e.policy.SlotTTL); err != nil {
		return domain.CheckInResult{}, err
	}

	// Audit trail only; the slot is the source of truth.
	if err := e.ledger.MarkSessionActive(ctx, account.Email, now); err != nil {
		e.log.Warn("failed to mark session active", zap.String("email", account.Email), zap.Error(err))
	}

	e.log.Info("session started",
		zap.String("email", account.Email),
		zap.String("session_id", slot.SessionID),
		zap.Float64("remaining_seconds", account.TalkTimeSeconds),
	)
	return domain.CheckInResult{
		SessionID:        slot.SessionID,
		RemainingSeconds: account.TalkTimeSeconds,
	}, nil
}

func (e *Engine) Heartbeat(ctx context.Context, email string) (domain.HeartbeatResult, error) {
	token, acquired, err := e.locker.TryLock(ctx, email, e.policy.LockTTL)
	if err != nil {
		return domain.HeartbeatResult{}, err
	}
	if !acquired {
		// Another heartbeat for this user is in flight. Report the
		// last-known balance and charge nothing.
		e.metrics.HeartbeatNoop("locked")
		var balance float64
		if account, err := e.ledger.Get(ctx, email); err == nil {
			balance = account.TalkTimeSeconds
		}
		return domain.HeartbeatResult{OK: true, RemainingSeconds: balance, Note: "locked"}, nil
	}
	defer func() {
		if err := e.locker.Release(ctx, email, token); err != nil {
			e.log.Warn("failed to release heartbeat lock", zap.String("email", email), zap.Error(err))
		}
	}()

	slot, err := e.store.GetSlot(ctx, email)
	if err != nil {
		return domain.HeartbeatResult{}, err
	}
	if slot == nil {
		return domain.HeartbeatResult{}, domain.ErrNoActiveSession
	}

	// Sliding expiry: a client that keeps heartbeating never loses its
	// slot to the TTL, whatever the deduction outcome below.
	if err := e.store.RefreshTTL(ctx, email, e.policy.SlotTTL); err != nil {
		e.log.Warn("failed to refresh slot ttl", zap.String("email", email), zap.Error(err))
	}

	account, err := e.ledger.Get(ctx, email)
	if err != nil {
		return domain.HeartbeatResult{}, err
	}
	balance := account.TalkTimeSeconds

	now := e.clock.Now()
	delta := now.Sub(slot.LastHeartbeat).Seconds()
	if delta < 0 {
		// Clock skew between processes; never credit the user for it.
		delta = 0
	}

	maxGap := e.policy.MaxHeartbeatGap.Seconds()
	if delta > maxGap {
		// Stalled or disconnected client. Charge at most the tolerated
		// window, never the full silence.
		newBalance, err := e.ledger.AddTalkTime(ctx, email, -maxGap)
		if err != nil {
			return domain.HeartbeatResult{}, err
		}
		if err := e.store.DeleteSlot(ctx, email); err != nil {
			e.log.Warn("failed to delete slot on gap timeout", zap.String("email", email), zap.Error(err))
		}

		deducted := balance - newBalance
		e.metrics.Deducted(deducted)
		e.metrics.Terminated(domain.ReasonGapTimeout)
		e.log.Warn("heartbeat gap exceeded, terminating session",
			zap.String("email", email),
			zap.String("session_id", slot.SessionID),
			zap.Float64("gap_seconds", delta),
			zap.Float64("deducted", deducted),
		)
		return domain.HeartbeatResult{
			RemainingSeconds: newBalance,
			Deducted:         deducted,
			Terminated:       true,
			Reason:           domain.ReasonGapTimeout,
		}, nil
	}

	if delta < e.policy.MinBillableDelta.Seconds() {
		// Bursty or duplicate delivery; absorb without charging.
		e.metrics.HeartbeatNoop("sub_floor")
		return domain.HeartbeatResult{OK: true, RemainingSeconds: balance}, nil
	}

	newBalance, err := e.ledger.AddTalkTime(ctx, email, -delta)
	if err != nil {
		return domain.HeartbeatResult{}, err
	}
	deducted := balance - newBalance
	e.metrics.Deducted(deducted)

	if newBalance <= 0 {
		if err := e.store.DeleteSlot(ctx, email); err != nil {
			e.log.Warn("failed to delete slot on exhaustion", zap.String("email", email), zap.Error(err))
		}
		e.metrics.Terminated(domain.ReasonExhausted)
		e.log.Info("talk time exhausted, terminating session",
			zap.String("email", email),
			zap.String("session_id", slot.SessionID),
		)
		return domain.HeartbeatResult{
			RemainingSeconds: 0,
			Deducted:         deducted,
			Terminated:       true,
			Reason:           domain.ReasonExhausted,
		}, nil
	}

	slot.LastHeartbeat = now
	if err := e.store.PutSlot(ctx, email, *slot, e.policy.SlotTTL); err != nil {
		return domain.HeartbeatResult{}, err
	}

	return domain.HeartbeatResult{
		OK:               true,
		RemainingSeconds: newBalance,
		Deducted:         deducted,
	}, nil
}

func (e *Engine) End(ctx context.Context, email string) error {
	return e.FlushPending(ctx, email)
}

func (e *Engine) FlushPending(ctx context.Context, email string) error {
	slot, err := e.store.GetSlot(ctx, email)
	if err != nil {
		return err
	}
	if slot == nil {
		return nil
	}

	// The slot goes first: flushing means the session is over.
	if err := e.store.DeleteSlot(ctx, email); err != nil {
		return err
	}

	delta := e.clock.Now().Sub(slot.LastHeartbeat).Seconds()
	if delta < 0 {
		delta = 0
	}
	if cap := e.policy.FlushCap.Seconds(); delta > cap {
		delta = cap
	}
	if delta == 0 {
		return nil
	}

	if _, err := e.ledger.AddTalkTime(ctx, email, -delta); err != nil {
		return err
	}
	e.metrics.Deducted(delta)
	e.log.Info("flushed pending talk time",
		zap.String("email", email),
		zap.String("session_id", slot.SessionID),
		zap.Float64("deducted", delta),
	)
	return nil
}

func (e *Engine) BalanceWithReconciliation(ctx context.Context, email string) (domain.BalanceResult, error) {
	if err := e.FlushPending(ctx, email); err != nil {
		// A balance read must still answer when the fast store hiccups;
		// the unflushed tail stays bounded by the slot TTL.
		e.log.Warn("flush before balance read failed", zap.String("email", email), zap.Error(err))
	}

	refilled, err := e.ledger.MaybeRefill(ctx, email)
	if err != nil {
		e.log.Warn("community refill check failed", zap.String("email", email), zap.Error(err))
	}
	if refilled {
		e.metrics.Refilled()
	}

	account, err := e.ledger.Get(ctx, email)
	if err != nil {
		return domain.BalanceResult{}, err
	}
	return domain.BalanceResult{
		TalkTimeSeconds:   account.TalkTimeSeconds,
		IsCommunityMember: account.IsCommunityMember,
		Refilled:          refilled,
	}, nil
}
