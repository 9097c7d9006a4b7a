package repo

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"
)

// Store — точка входа в реляционное хранилище. Под-хранилища разделяют один *gorm.DB,
// внутри WithTx — одну транзакцию.
type Store struct {
	DB  *gorm.DB
	now func() time.Time

	// topicMu сериализует проверку пересечения окон и вставку темы в пределах процесса.
	topicMu *sync.Mutex
}

func New(db *gorm.DB) *Store {
	return &Store{
		DB:      db,
		now:     func() time.Time { return time.Now().UTC() },
		topicMu: &sync.Mutex{},
	}
}

// WithClock подменяет источник времени (тесты).
func (s *Store) WithClock(now func() time.Time) *Store {
	cp := *s
	cp.now = now
	return &cp
}

func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cp := *s
		cp.DB = tx
		return fn(&cp)
	})
}

func (s *Store) Devices() *DeviceStore { return &DeviceStore{db: s.DB, now: s.now} }
func (s *Store) Topics() *TopicStore   { return &TopicStore{db: s.DB, mu: s.topicMu} }
func (s *Store) Votes() *VoteStore     { return &VoteStore{db: s.DB, now: s.now} }
