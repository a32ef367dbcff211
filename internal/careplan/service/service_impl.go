package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/ronitlabs/talktime/internal/careplan/domain"
	"github.com/ronitlabs/talktime/internal/clock"
	"github.com/ronitlabs/talktime/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	minTranscriptLength = 10
	maxTranscriptLength = 50000
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Cfg   config.Config
	Clock clock.Clock
	GenID *snowflake.Node
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	cfg   config.Config
	clock clock.Clock
	genID *snowflake.Node
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("careplan.service"),
		cfg:   p.Cfg,
		clock: p.Clock,
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) Enqueue(ctx context.Context, email, transcript, hostURL string) (*domain.EnqueueResult, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, domain.ErrMissingTranscript
	}
	if len(transcript) > maxTranscriptLength {
		transcript = transcript[:maxTranscriptLength]
	}
	if len(transcript) < minTranscriptLength {
		return nil, domain.ErrTranscriptTooShort
	}

	now := s.clock.Now()
	sessionID := uuid.NewString()[:8]
	blueprintID := now.Format("20060102T150405") + "_" + sessionID

	payload, err := json.Marshal(domain.TaskPayload{
		Email:       email,
		Transcript:  transcript,
		SessionID:   sessionID,
		BlueprintID: blueprintID,
		HostURL:     hostURL,
	})
	if err != nil {
		return nil, err
	}

	task := &domain.Task{
		ID:        s.genID.Generate().Int64(),
		Type:      domain.TypeGenerateCarePlan,
		Payload:   string(payload),
		Status:    domain.StatusPending,
		CreatedAt: now,
	}
	if err := s.repo.InsertTask(ctx, s.db, task); err != nil {
		return nil, err
	}

	s.log.Info("care plan task queued",
		zap.String("email", email),
		zap.String("blueprint_id", blueprintID),
		zap.Int("transcript_length", len(transcript)),
	)
	return &domain.EnqueueResult{BlueprintID: blueprintID}, nil
}

func (s *Service) GetBlueprint(ctx context.Context, id string) (*domain.Blueprint, error) {
	if !domain.ValidBlueprintID(id) {
		return nil, domain.ErrInvalidBlueprintID
	}

	bp, err := s.repo.FindBlueprint(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if bp == nil {
		return nil, domain.ErrBlueprintNotFound
	}
	return bp, nil
}
