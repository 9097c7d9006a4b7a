// Package broker — транспорт pub/sub между сервером и ESP: интерфейс, клиент MQTT (paho)
// и in-memory реализация для работы без брокера и для тестов.
package broker

import (
	"context"
	"errors"
	"sort"
	"sync"

	"espvote/internal/codec"
)

var ErrNotConnected = errors.New("broker: not connected")

// Handler получает входящее сообщение. Может вызываться конкурентно.
type Handler func(ctx context.Context, topic string, payload []byte)

type Transport interface {
	Publish(ctx context.Context, msg codec.Message) error
	Subscribe(ctx context.Context, filter string, h Handler) error
	Unsubscribe(ctx context.Context, filters ...string) error
}

// Memory — транспорт внутри процесса: Publish доставляет сообщение подписчикам
// с подходящим фильтром и запоминает его.
type Memory struct {
	mu        sync.Mutex
	subs      map[string]Handler
	published []codec.Message
	failNext  error
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[string]Handler)}
}

func (m *Memory) Publish(ctx context.Context, msg codec.Message) error {
	m.mu.Lock()
	if err := m.failNext; err != nil {
		m.failNext = nil
		m.mu.Unlock()
		return err
	}
	m.published = append(m.published, msg)
	hs := m.matching(msg.Topic)
	m.mu.Unlock()

	for _, h := range hs {
		h(ctx, msg.Topic, msg.Payload)
	}
	return nil
}

func (m *Memory) Subscribe(_ context.Context, filter string, h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[filter] = h
	return nil
}

func (m *Memory) Unsubscribe(_ context.Context, filters ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range filters {
		delete(m.subs, f)
	}
	return nil
}

// Inject имитирует входящее сообщение от устройства, не записывая его в Published.
// Возвращает false, если ни один фильтр не подошёл.
func (m *Memory) Inject(ctx context.Context, topic string, payload []byte) bool {
	m.mu.Lock()
	hs := m.matching(topic)
	m.mu.Unlock()
	for _, h := range hs {
		h(ctx, topic, payload)
	}
	return len(hs) > 0
}

// FailNextPublish — следующий Publish вернёт err.
func (m *Memory) FailNextPublish(err error) {
	m.mu.Lock()
	m.failNext = err
	m.mu.Unlock()
}

func (m *Memory) Published() []codec.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]codec.Message(nil), m.published...)
}

// PublishedTo — опубликованные сообщения на конкретный топик.
func (m *Memory) PublishedTo(topic string) []codec.Message {
	var out []codec.Message
	for _, msg := range m.Published() {
		if msg.Topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

func (m *Memory) Subscriptions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.subs))
	for f := range m.subs {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (m *Memory) matching(topic string) []Handler {
	var hs []Handler
	for f, h := range m.subs {
		if Match(f, topic) {
			hs = append(hs, h)
		}
	}
	return hs
}
