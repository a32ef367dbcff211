package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/ronitlabs/talktime/internal/clock"
	"github.com/ronitlabs/talktime/internal/config"
	"github.com/ronitlabs/talktime/internal/ledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// onlineWindow is how recently a user must have pinged to count as online.
const onlineWindow = 15 * time.Minute

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Cfg   config.Config
	GenID *snowflake.Node
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	cfg   config.Config
	genID *snowflake.Node
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ledger.service"),
		clock: p.Clock,
		cfg:   p.Cfg,
		genID: p.GenID,
		repo:  p.Repo,
	}
}

// NormalizeEmail lowercases and trims an address. Every ledger entry point
// goes through this so the key space stays case-insensitive.
func NormalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" || !strings.Contains(email, "@") || len(email) > 254 {
		return "", domain.ErrInvalidEmail
	}
	return email, nil
}

func (s *Service) Get(ctx context.Context, email string) (*domain.UserAccount, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	account, err := s.repo.FindByEmail(ctx, s.db, email)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, domain.ErrNotFound
	}
	return account, nil
}

func (s *Service) Create(ctx context.Context, req domain.CreateAccountRequest) (*domain.UserAccount, error) {
	email, err := NormalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByEmail(ctx, s.db, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domain.ErrUserExists
	}

	now := s.clock.Now()
	account := &domain.UserAccount{
		Email:             email,
		Name:              strings.TrimSpace(req.Name),
		PasswordHash:      req.PasswordHash,
		TalkTimeSeconds:   req.WelcomeBonus,
		IsCommunityMember: req.CommunityMember,
		WelcomeBonusGiven: req.WelcomeBonus > 0,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if req.WelcomeBonus > 0 {
		account.WelcomeBonusDate = &now
	}

	if err := s.repo.Insert(ctx, s.db, account); err != nil {
		return nil, err
	}

	s.log.Info("account created",
		zap.String("email", email),
		zap.Float64("welcome_bonus", req.WelcomeBonus),
	)
	return account, nil
}

func (s *Service) List(ctx context.Context) ([]domain.UserAccount, error) {
	return s.repo.List(ctx, s.db)
}

func (s *Service) Delete(ctx context.Context, email string) error {
	email, err := NormalizeEmail(email)
	if err != nil {
		return err
	}
	return s.repo.Delete(ctx, s.db, email)
}

func (s *Service) AddTalkTime(ctx context.Context, email string, delta float64) (float64, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return 0, err
	}
	if err := s.repo.AddTalkTime(ctx, s.db, email, delta, s.clock.Now()); err != nil {
		return 0, err
	}
	account, err := s.repo.FindByEmail(ctx, s.db, email)
	if err != nil {
		return 0, err
	}
	if account == nil {
		return 0, domain.ErrNotFound
	}
	return account.TalkTimeSeconds, nil
}

func (s *Service) SetTalkTime(ctx context.Context, email string, amount float64) error {
	email, err := NormalizeEmail(email)
	if err != nil {
		return err
	}
	if amount < 0 {
		amount = 0
	}
	return s.repo.UpdateFields(ctx, s.db, email, map[string]any{
		"talk_time_seconds": amount,
		"updated_at":        s.clock.Now(),
	})
}

func (s *Service) MaybeRefill(ctx context.Context, email string) (bool, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return false, err
	}

	now := s.clock.Now()
	cutoff := now.Add(-s.cfg.Metering.RefillInterval)
	refilled, err := s.repo.ApplyRefill(ctx, s.db, email, s.cfg.Metering.RefillBonus, cutoff, now)
	if err != nil {
		return false, err
	}
	if refilled {
		s.log.Info("community refill applied",
			zap.String("email", email),
			zap.Float64("bonus_seconds", s.cfg.Metering.RefillBonus),
		)
	}
	return refilled, nil
}

func (s *Service) SetCommunityMember(ctx context.Context, email string, member bool) error {
	email, err := NormalizeEmail(email)
	if err != nil {
		return err
	}
	fields := map[string]any{
		"is_community_member": member,
		"updated_at":          s.clock.Now(),
	}
	if !member {
		// Re-arming the refill on re-promotion is intentional.
		fields["last_community_refill"] = nil
	}
	return s.repo.UpdateFields(ctx, s.db, email, fields)
}

func (s *Service) RecordLogin(ctx context.Context, email string) error {
	email, err := NormalizeEmail(email)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	return s.repo.UpdateFields(ctx, s.db, email, map[string]any{
		"last_login": now,
		"updated_at": now,
	})
}

func (s *Service) MarkSessionActive(ctx context.Context, email string, at time.Time) error {
	email, err := NormalizeEmail(email)
	if err != nil {
		return err
	}
	return s.repo.UpdateFields(ctx, s.db, email, map[string]any{
		"session_status":        "active",
		"last_active_heartbeat": at,
		"updated_at":            s.clock.Now(),
	})
}

func (s *Service) RecordSession(ctx context.Context, log domain.SessionLog) error {
	email, err := NormalizeEmail(log.Email)
	if err != nil {
		return err
	}
	log.Email = email
	log.ID = s.genID.Generate().Int64()
	log.CreatedAt = s.clock.Now()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertSessionLog(ctx, tx, &log); err != nil {
			return err
		}
		return s.repo.IncrementSessions(ctx, tx, email, log.CreatedAt)
	})
}

func (s *Service) ResetAccount(ctx context.Context, email string, resetTalkTime, resetSessions bool) error {
	email, err := NormalizeEmail(email)
	if err != nil {
		return err
	}
	fields := map[string]any{"updated_at": s.clock.Now()}
	if resetTalkTime {
		fields["talk_time_seconds"] = float64(0)
	}
	if resetSessions {
		fields["total_sessions"] = int64(0)
	}
	return s.repo.UpdateFields(ctx, s.db, email, fields)
}

func (s *Service) Stats(ctx context.Context) (domain.Stats, error) {
	accounts, err := s.repo.List(ctx, s.db)
	if err != nil {
		return domain.Stats{}, err
	}

	now := s.clock.Now()
	today := now.Truncate(24 * time.Hour)

	stats := domain.Stats{TotalUsers: int64(len(accounts))}
	for _, a := range accounts {
		stats.TotalTalkTime += a.TalkTimeSeconds
		stats.TotalSessions += a.TotalSessions
		if a.LastLogin != nil {
			if !a.LastLogin.Before(today) {
				stats.ActiveToday++
			}
			if now.Sub(*a.LastLogin) < onlineWindow {
				stats.OnlineNow++
			}
		}
	}
	if stats.TotalUsers > 0 {
		stats.AverageTalkTime = stats.TotalTalkTime / float64(stats.TotalUsers)
		stats.AverageSessions = float64(stats.TotalSessions) / float64(stats.TotalUsers)
	}
	return stats, nil
}

// IsOnline reports whether an account pinged within the online window.
func IsOnline(a domain.UserAccount, now time.Time) bool {
	return a.LastLogin != nil && now.Sub(*a.LastLogin) < onlineWindow
}
