package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dealbridge/internal/payout/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo domain.Repository
}

type Service struct {
	db   *gorm.DB
	log  *zap.Logger
	repo domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:   p.DB,
		log:  p.Log.Named("payout.service"),
		repo: p.Repo,
	}
}

func (s *Service) Save(ctx context.Context, userID snowflake.ID, method domain.Method) (*domain.Profile, error) {
	if err := method.Validate(); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(method)
	if err != nil {
		return nil, err
	}
	profile := &domain.Profile{
		UserID:    userID,
		Method:    datatypes.JSON(raw),
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.repo.Upsert(ctx, s.db, profile); err != nil {
		return nil, err
	}
	s.log.Info("payout method saved",
		zap.String("user_id", userID.String()),
		zap.String("kind", string(method.Kind)),
	)
	return profile, nil
}

func (s *Service) Get(ctx context.Context, userID snowflake.ID) (*domain.Method, error) {
	profile, err := s.repo.Find(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, domain.ErrProfileNotFound
	}
	var method domain.Method
	if err := json.Unmarshal(profile.Method, &method); err != nil {
		return nil, err
	}
	return &method, nil
}
