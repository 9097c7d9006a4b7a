package repo

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"espvote/internal/models"

	"gorm.io/gorm"
)

type TopicStore struct {
	db *gorm.DB
	mu *sync.Mutex
}

// Create проверяет окно и добавляет тему. Пересечение с любой существующей темой — ErrConflict.
// Проверка и вставка выполняются под мьютексом процесса и в одной транзакции.
func (s *TopicStore) Create(ctx context.Context, title, description string, start, end time.Time) (models.Topic, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return models.Topic{}, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if start.IsZero() || end.IsZero() {
		return models.Topic{}, fmt.Errorf("%w: startTime and endTime are required", ErrValidation)
	}
	start, end = start.UTC(), end.UTC()
	if !start.Before(end) {
		return models.Topic{}, fmt.Errorf("%w: startTime must be before endTime", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := models.Topic{Title: title, Description: description, StartTime: start, EndTime: end}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []models.Topic
		if err := tx.Find(&existing).Error; err != nil {
			return err
		}
		for _, e := range existing {
			if e.Overlaps(start, end) {
				return fmt.Errorf("%w: window overlaps topic %d (%q)", ErrConflict, e.ID, e.Title)
			}
		}
		return tx.Create(&t).Error
	})
	if err != nil {
		return models.Topic{}, fault("create topic", err)
	}
	return t, nil
}

func (s *TopicStore) List(ctx context.Context) ([]models.Topic, error) {
	out := []models.Topic{}
	err := s.db.WithContext(ctx).Order("start_time").Order("id").Find(&out).Error
	if err != nil {
		return nil, fault("list topics", err)
	}
	normalize(out)
	return out, nil
}

func (s *TopicStore) Get(ctx context.Context, id uint) (models.Topic, error) {
	var t models.Topic
	if err := s.db.WithContext(ctx).First(&t, id).Error; err != nil {
		return models.Topic{}, fault("get topic", err)
	}
	t.StartTime, t.EndTime = t.StartTime.UTC(), t.EndTime.UTC()
	return t, nil
}

// Current выбирает тему для трекера окна: активную, иначе ближайшую будущую,
// иначе последнюю завершившуюся. Нет тем — ErrNotFound.
func (s *TopicStore) Current(ctx context.Context, now time.Time) (models.Topic, error) {
	all, err := s.List(ctx)
	if err != nil {
		return models.Topic{}, err
	}
	if t, ok := Pick(all, now); ok {
		return t, nil
	}
	return models.Topic{}, fmt.Errorf("current topic: %w", ErrNotFound)
}

// Pick — правило выбора темы из Current на уже загруженном списке.
func Pick(topics []models.Topic, now time.Time) (models.Topic, bool) {
	if len(topics) == 0 {
		return models.Topic{}, false
	}
	sorted := append([]models.Topic(nil), topics...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartTime.Before(sorted[j].StartTime) })

	for _, t := range sorted {
		if t.Active(now) {
			return t, true
		}
	}
	for _, t := range sorted {
		if t.StartTime.After(now) {
			return t, true
		}
	}
	last := sorted[0]
	for _, t := range sorted[1:] {
		if t.EndTime.After(last.EndTime) {
			last = t
		}
	}
	return last, true
}

// драйверы могут вернуть время в локальной зоне
func normalize(ts []models.Topic) {
	for i := range ts {
		ts[i].StartTime = ts[i].StartTime.UTC()
		ts[i].EndTime = ts[i].EndTime.UTC()
	}
}
