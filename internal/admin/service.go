package admin

import (
	"context"
	"errors"

	"github.com/ronitlabs/talktime/internal/clock"
	ledgerdomain "github.com/ronitlabs/talktime/internal/ledger/domain"
	ledgerservice "github.com/ronitlabs/talktime/internal/ledger/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidAction = errors.New("invalid_action")

// UserView is a ledger account decorated with liveness for the admin UI.
type UserView struct {
	ledgerdomain.UserAccount
	IsOnline bool `json:"is_online"`
}

// TalkTimeOp mutates a user's balance from the admin console.
type TalkTimeOp struct {
	Email  string  `json:"email"`
	Action string  `json:"action"` // set|add|subtract
	Amount float64 `json:"amount"`
}

// Service is the operator console: everything here is reachable only
// behind admin-scoped tokens.
type Service struct {
	log    *zap.Logger
	clock  clock.Clock
	ledger ledgerdomain.Service
}

func New(log *zap.Logger, clk clock.Clock, ledger ledgerdomain.Service) *Service {
	return &Service{
		log:    log.Named("admin.service"),
		clock:  clk,
		ledger: ledger,
	}
}

func (s *Service) ListUsers(ctx context.Context) ([]UserView, error) {
	accounts, err := s.ledger.List(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	views := make([]UserView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, UserView{
			UserAccount: a,
			IsOnline:    ledgerservice.IsOnline(a, now),
		})
	}
	return views, nil
}

func (s *Service) Stats(ctx context.Context) (ledgerdomain.Stats, error) {
	return s.ledger.Stats(ctx)
}

// AdjustTalkTime applies a set/add/subtract operation and returns the new
// balance.
func (s *Service) AdjustTalkTime(ctx context.Context, op TalkTimeOp) (float64, error) {
	var newBalance float64
	var err error

	switch op.Action {
	case "set":
		if err = s.ledger.SetTalkTime(ctx, op.Email, op.Amount); err == nil {
			newBalance = op.Amount
			if newBalance < 0 {
				newBalance = 0
			}
		}
	case "add":
		newBalance, err = s.ledger.AddTalkTime(ctx, op.Email, op.Amount)
	case "subtract":
		newBalance, err = s.ledger.AddTalkTime(ctx, op.Email, -op.Amount)
	default:
		return 0, ErrInvalidAction
	}
	if err != nil {
		return 0, err
	}

	s.log.Info("admin talk time adjustment",
		zap.String("email", op.Email),
		zap.String("action", op.Action),
		zap.Float64("amount", op.Amount),
		zap.Float64("new_balance", newBalance),
	)
	return newBalance, nil
}

// SetCommunityMember toggles VIP status.
func (s *Service) SetCommunityMember(ctx context.Context, email string, member bool) error {
	if err := s.ledger.SetCommunityMember(ctx, email, member); err != nil {
		return err
	}
	s.log.Info("admin membership change",
		zap.String("email", email),
		zap.Bool("is_community_member", member),
	)
	return nil
}

func (s *Service) DeleteUser(ctx context.Context, email string) error {
	if err := s.ledger.Delete(ctx, email); err != nil {
		return err
	}
	s.log.Warn("admin deleted user", zap.String("email", email))
	return nil
}

func (s *Service) ResetUser(ctx context.Context, email string, resetTalkTime, resetSessions bool) error {
	if err := s.ledger.ResetAccount(ctx, email, resetTalkTime, resetSessions); err != nil {
		return err
	}
	s.log.Info("admin reset user",
		zap.String("email", email),
		zap.Bool("talktime", resetTalkTime),
		zap.Bool("sessions", resetSessions),
	)
	return nil
}

var Module = fx.Module("admin.service",
	fx.Provide(New),
)
