package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"espvote/internal/models"

	"gorm.io/gorm"
)

type VoteStore struct {
	db  *gorm.DB
	now func() time.Time
}

// CastResult — итог Cast: Created=false означает, что обновлён существующий голос.
type CastResult struct {
	Vote    models.Vote
	Voter   models.Voter
	Created bool
}

func (s *VoteStore) Exists(ctx context.Context, voterID, topicID uint) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Vote{}).
		Where("voter_id = ? AND topic_id = ?", voterID, topicID).
		Count(&n).Error
	if err != nil {
		return false, fault("vote exists", err)
	}
	return n > 0, nil
}

// Create вставляет голос закреплённого за устройством голосующего.
// Незакреплённое устройство — ErrPreconditionFailed, строка не пишется.
func (s *VoteStore) Create(ctx context.Context, deviceID uint, value string, topicID uint) (models.Vote, error) {
	var out models.Vote
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		voter, err := s.voterFor(ctx, tx, deviceID)
		if err != nil {
			return err
		}
		out, err = s.insert(tx, voter.ID, value, topicID)
		return err
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return models.Vote{}, fmt.Errorf("%w: vote for topic %d already exists", ErrConflict, topicID)
	}
	return out, fault("create vote", err)
}

// Update меняет значение голоса голосующего по теме topicID. Голоса нет — ErrNotFound.
func (s *VoteStore) Update(ctx context.Context, deviceID uint, value string, topicID uint) (models.Vote, error) {
	var out models.Vote
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		voter, err := s.voterFor(ctx, tx, deviceID)
		if err != nil {
			return err
		}
		out, err = s.update(tx, voter.ID, value, topicID)
		return err
	})
	return out, fault("update vote", err)
}

// Cast — check-then-update-or-insert в одной транзакции. Проигравшая параллельная
// вставка (уникальный индекс voter_id+topic_id) превращается в обновление.
func (s *VoteStore) Cast(ctx context.Context, deviceID uint, value string, topicID uint) (CastResult, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return CastResult{}, fmt.Errorf("%w: empty vote value", ErrValidation)
	}

	var res CastResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		voter, err := s.voterFor(ctx, tx, deviceID)
		if err != nil {
			return err
		}
		res.Voter = voter

		var n int64
		if err := tx.Model(&models.Vote{}).
			Where("voter_id = ? AND topic_id = ?", voter.ID, topicID).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			res.Vote, err = s.update(tx, voter.ID, value, topicID)
			return err
		}

		// вставка в savepoint: на postgres ошибка уникальности иначе ломает всю транзакцию
		err = tx.Transaction(func(sp *gorm.DB) error {
			v, err := s.insert(sp, voter.ID, value, topicID)
			res.Vote = v
			return err
		})
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			res.Vote, err = s.update(tx, voter.ID, value, topicID)
			return err
		}
		if err != nil {
			return err
		}
		res.Created = true
		return nil
	})
	if err != nil {
		return CastResult{}, fault("cast vote", err)
	}
	return res, nil
}

func (s *VoteStore) voterFor(ctx context.Context, tx *gorm.DB, deviceID uint) (models.Voter, error) {
	var dev models.Device
	if err := tx.First(&dev, deviceID).Error; err != nil {
		return models.Voter{}, err
	}
	return (&DeviceStore{db: tx, now: s.now}).VoterOf(ctx, dev)
}

func (s *VoteStore) insert(tx *gorm.DB, voterID uint, value string, topicID uint) (models.Vote, error) {
	v := models.Vote{VoterID: voterID, TopicID: topicID, Value: value, CastAt: s.now()}
	if err := tx.Create(&v).Error; err != nil {
		return models.Vote{}, err
	}
	return v, nil
}

func (s *VoteStore) update(tx *gorm.DB, voterID uint, value string, topicID uint) (models.Vote, error) {
	var v models.Vote
	if err := tx.Where("voter_id = ? AND topic_id = ?", voterID, topicID).First(&v).Error; err != nil {
		return models.Vote{}, err
	}
	v.Value = value
	v.CastAt = s.now()
	if err := tx.Model(&v).Select("value", "cast_at").Updates(&v).Error; err != nil {
		return models.Vote{}, err
	}
	return v, nil
}

// ListForTopic — голоса по теме с именами голосующих.
func (s *VoteStore) ListForTopic(ctx context.Context, topicID uint) ([]models.VoteView, error) {
	return s.listViews(ctx, "votes.topic_id = ?", topicID)
}

func (s *VoteStore) ListForVoter(ctx context.Context, voterID uint) ([]models.VoteView, error) {
	return s.listViews(ctx, "votes.voter_id = ?", voterID)
}

func (s *VoteStore) listViews(ctx context.Context, where string, arg any) ([]models.VoteView, error) {
	out := []models.VoteView{}
	err := s.db.WithContext(ctx).
		Table("votes").
		Select("votes.*, voters.name AS voter_name").
		Joins("LEFT JOIN voters ON voters.id = votes.voter_id").
		Where(where, arg).
		Order("votes.id").
		Scan(&out).Error
	if err != nil {
		return nil, fault("list votes", err)
	}
	return out, nil
}
