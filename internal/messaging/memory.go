package messaging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by Publish and Subscribe after Close.
var ErrClosed = errors.New("messaging client closed")

// Memory is an in-process Client. Handlers run synchronously on Publish;
// queue groups deliver each message to one member, round robin.
type Memory struct {
	mu     sync.RWMutex
	subs   []*memorySub
	closed bool
	next   atomic.Uint64
}

// NewMemory returns an open bus with no subscribers.
func NewMemory() *Memory {
	return &Memory{}
}

type memorySub struct {
	bus     *Memory
	subject string
	queue   string
	handler MessageHandler
	valid   atomic.Bool
}

func (s *memorySub) Unsubscribe() error {
	s.valid.Store(false)
	s.bus.remove(s)
	return nil
}

func (s *memorySub) Subject() string { return s.subject }
func (s *memorySub) IsValid() bool   { return s.valid.Load() }

func (m *Memory) add(subject, queue string, h MessageHandler) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	s := &memorySub{bus: m, subject: subject, queue: queue, handler: h}
	s.valid.Store(true)
	m.subs = append(m.subs, s)
	return s, nil
}

func (m *Memory) remove(target *memorySub) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.subs {
		if s == target {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			return
		}
	}
}

// Subscribe delivers every message on subject to h.
func (m *Memory) Subscribe(subject string, h MessageHandler) (Subscription, error) {
	return m.add(subject, "", h)
}

// QueueSubscribe delivers each message to one member of queue.
func (m *Memory) QueueSubscribe(subject, queue string, h MessageHandler) (Subscription, error) {
	return m.add(subject, queue, h)
}

// Publish runs the matching handlers before returning and joins their errors.
func (m *Memory) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	var targets []*memorySub
	groups := make(map[string][]*memorySub)
	for _, s := range m.subs {
		if s.subject != subject {
			continue
		}
		if s.queue == "" {
			targets = append(targets, s)
		} else {
			groups[s.queue] = append(groups[s.queue], s)
		}
	}
	m.mu.RUnlock()

	for _, members := range groups {
		targets = append(targets, members[m.next.Add(1)%uint64(len(members))])
	}

	msg := &Message{Subject: subject, Data: append([]byte(nil), data...), Timestamp: time.Now()}
	var errs []error
	for _, s := range targets {
		if err := s.handler(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close invalidates every subscription.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		s.valid.Store(false)
	}
	m.subs = nil
	m.closed = true
	return nil
}

func (m *Memory) Drain() error { return m.Close() }

func (m *Memory) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.closed
}
