// Package window держит в памяти текущую тему голосования и отвечает на вопросы
// «открыто ли окно» и «относится ли голос к этой теме» без обращения к БД.
package window

import (
	"context"
	"strings"
	"sync"
	"time"

	"espvote/internal/codec"
	"espvote/internal/models"
)

// Source — откуда трекер перечитывает тему (repo.TopicStore.Current).
type Source interface {
	Current(ctx context.Context, now time.Time) (models.Topic, error)
}

// Status — ответ на resync.
type Status struct {
	TopicID uint   `json:"topicId"`
	Title   string `json:"title"`
	Status  string `json:"status"`
}

type Tracker struct {
	mu    sync.RWMutex
	topic *models.Topic
}

func New() *Tracker { return &Tracker{} }

// Set заменяет текущую тему целиком.
func (t *Tracker) Set(topic models.Topic) {
	cp := topic
	cp.StartTime, cp.EndTime = cp.StartTime.UTC(), cp.EndTime.UTC()
	t.mu.Lock()
	t.topic = &cp
	t.mu.Unlock()
}

// Consider ставит topic текущей, если она уместнее текущей на момент now:
// активная важнее неактивной, среди неактивных — ближайшая будущая.
// Возвращает true, если тема заменена.
func (t *Tracker) Consider(topic models.Topic, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.topic == nil || better(topic, *t.topic, now) {
		cp := topic
		cp.StartTime, cp.EndTime = cp.StartTime.UTC(), cp.EndTime.UTC()
		t.topic = &cp
		return true
	}
	return false
}

func better(cand, cur models.Topic, now time.Time) bool {
	switch {
	case cur.Active(now):
		return false
	case cand.Active(now):
		return true
	case cand.StartTime.After(now) && cur.StartTime.After(now):
		return cand.StartTime.Before(cur.StartTime)
	case cand.StartTime.After(now):
		return true // текущая уже закончилась
	case cur.StartTime.After(now):
		return false
	}
	return cand.EndTime.After(cur.EndTime)
}

func (t *Tracker) Clear() {
	t.mu.Lock()
	t.topic = nil
	t.mu.Unlock()
}

// Current — копия текущей темы.
func (t *Tracker) Current() (models.Topic, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.topic == nil {
		return models.Topic{}, false
	}
	return *t.topic, true
}

// IsWithinWindow — start <= now <= end. Без темы окна нет.
func (t *Tracker) IsWithinWindow(now time.Time) bool {
	cur, ok := t.Current()
	return ok && cur.Active(now)
}

// MatchesTitle — точное совпадение заголовка (пробелы по краям не учитываются).
func (t *Tracker) MatchesTitle(title string) bool {
	cur, ok := t.Current()
	return ok && strings.TrimSpace(title) == cur.Title
}

// Accepts — голос относится к текущей теме и окно открыто. Если в сообщении
// есть topicId, сверяем по нему, иначе по заголовку. Решение принимается по одному снимку темы.
func (t *Tracker) Accepts(msg codec.VoteMessage, now time.Time) (models.Topic, bool) {
	cur, ok := t.Current()
	if !ok || !cur.Active(now) {
		return cur, false
	}
	if msg.TopicID != nil {
		return cur, *msg.TopicID == cur.ID
	}
	return cur, strings.TrimSpace(msg.Title) == cur.Title
}

// ResyncPayload — {title, status}: ended, если now > end, иначе started.
func (t *Tracker) ResyncPayload(now time.Time) (Status, bool) {
	cur, ok := t.Current()
	if !ok {
		return Status{}, false
	}
	st := codec.StatusStarted
	if now.After(cur.EndTime) {
		st = codec.StatusEnded
	}
	return Status{TopicID: cur.ID, Title: cur.Title, Status: st}, true
}

// Reload перечитывает тему из src. При ошибке (в том числе «тем нет») текущая остаётся.
func (t *Tracker) Reload(ctx context.Context, src Source, now time.Time) (models.Topic, error) {
	topic, err := src.Current(ctx, now)
	if err != nil {
		return models.Topic{}, err
	}
	t.Set(topic)
	return topic, nil
}
