package domain

import (
	"context"
	"errors"
	"time"
)

// Slot is the ephemeral record of an in-progress call. At most one slot
// exists per user; a new check-in supersedes any previous one.
type Slot struct {
	SessionID     string    `json:"session_id"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Policy holds the metering constants. The heartbeat cap (10s) and the
// flush cap (15s) are deliberately different: the flush path runs rarely
// and represents "time since we last knew the client was alive".
type Policy struct {
	MaxHeartbeatGap  time.Duration
	MinBillableDelta time.Duration
	FlushCap         time.Duration
	SlotTTL          time.Duration
	LockTTL          time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxHeartbeatGap:  10 * time.Second,
		MinBillableDelta: time.Second,
		FlushCap:         15 * time.Second,
		SlotTTL:          time.Hour,
		LockTTL:          5 * time.Second,
	}
}

// Termination reasons reported to the client.
const (
	ReasonGapTimeout = "gap_timeout"
	ReasonExhausted  = "exhausted"
)

type CheckInResult struct {
	SessionID        string  `json:"session_id"`
	RemainingSeconds float64 `json:"remaining_seconds"`
}

// HeartbeatResult is the outcome of one heartbeat. Terminated carries the
// reason when the engine closed the slot; Note marks lock-contended no-ops.
type HeartbeatResult struct {
	OK               bool    `json:"ok"`
	RemainingSeconds float64 `json:"remaining_seconds"`
	Deducted         float64 `json:"deducted"`
	Terminated       bool    `json:"-"`
	Reason           string  `json:"reason,omitempty"`
	Note             string  `json:"note,omitempty"`
}

type BalanceResult struct {
	TalkTimeSeconds   float64 `json:"talktime"`
	IsCommunityMember bool    `json:"is_community_member"`
	Refilled          bool    `json:"-"`
}

type Service interface {
	// CheckIn opens a fresh slot for the user. Requires community
	// membership and a positive balance. No deduction happens here.
	CheckIn(ctx context.Context, email string) (CheckInResult, error)

	// Heartbeat bills elapsed wall-clock time since the previous beat.
	Heartbeat(ctx context.Context, email string) (HeartbeatResult, error)

	// End flushes any pending time and closes the slot. Idempotent.
	End(ctx context.Context, email string) error

	// FlushPending charges time stranded since the last heartbeat and
	// deletes the slot, so balance reads never overstate remaining time.
	FlushPending(ctx context.Context, email string) error

	// BalanceWithReconciliation flushes, applies the monthly community
	// refill, then reads the balance.
	BalanceWithReconciliation(ctx context.Context, email string) (BalanceResult, error)
}

// Store is the ephemeral heartbeat-slot store.
type Store interface {
	PutSlot(ctx context.Context, email string, slot Slot, ttl time.Duration) error
	GetSlot(ctx context.Context, email string) (*Slot, error)
	DeleteSlot(ctx context.Context, email string) error
	RefreshTTL(ctx context.Context, email string, ttl time.Duration) error
}

// Locker serializes heartbeat processing per user. TryLock never blocks;
// a contended lock is not an error.
type Locker interface {
	TryLock(ctx context.Context, email string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, email, token string) error
}

var (
	ErrNotCommunityMember = errors.New("not_community_member")
	ErrInsufficientFunds  = errors.New("insufficient_funds")
	ErrNoActiveSession    = errors.New("no_active_session")
	ErrStoreUnavailable   = errors.New("store_unavailable")
)
