package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type memoryConfig struct {
	defaultTTL time.Duration
	sweepEvery time.Duration
	maxEntries int
}

// Option configures the in-memory cache.
type Option func(*memoryConfig)

// WithDefaultTTL sets the TTL used when Set receives zero.
// Default: 1 minute.
func WithDefaultTTL(d time.Duration) Option {
	return func(c *memoryConfig) { c.defaultTTL = d }
}

// WithSweepInterval sets how often expired entries are purged. Zero disables the sweeper.
// Default: 1 minute.
func WithSweepInterval(d time.Duration) Option {
	return func(c *memoryConfig) { c.sweepEvery = d }
}

// WithMaxEntries caps the cache size; the least recently used entry is evicted first.
// Zero means unlimited.
func WithMaxEntries(n int) Option {
	return func(c *memoryConfig) { c.maxEntries = n }
}

type item[V any] struct {
	key     string
	value   V
	expires time.Time
}

// Memory is an in-process LRU cache with TTL expiry.
type Memory[V any] struct {
	mu     sync.Mutex
	cfg    memoryConfig
	index  map[string]*list.Element
	order  *list.List // front = most recently used
	stop   chan struct{}
	closed bool
	now    func() time.Time
}

// NewMemory creates a Memory cache and starts its sweeper.
func NewMemory[V any](opts ...Option) *Memory[V] {
	cfg := memoryConfig{defaultTTL: time.Minute, sweepEvery: time.Minute}
	for _, opt := range opts {
		opt(&cfg)
	}
	m := &Memory[V]{
		cfg:   cfg,
		index: make(map[string]*list.Element),
		order: list.New(),
		stop:  make(chan struct{}),
		now:   time.Now,
	}
	if cfg.sweepEvery > 0 {
		go m.sweep()
	}
	return m
}

func (m *Memory[V]) expired(it *item[V]) bool {
	return !it.expires.IsZero() && m.now().After(it.expires)
}

func (m *Memory[V]) Get(_ context.Context, key string) (V, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero V
	el, ok := m.index[key]
	if !ok {
		return zero, ErrNotFound
	}
	it := el.Value.(*item[V])
	if m.expired(it) {
		m.drop(el)
		return zero, ErrNotFound
	}
	m.order.MoveToFront(el)
	return it.value, nil
}

func (m *Memory[V]) Set(_ context.Context, key string, value V, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if ttl == 0 {
		ttl = m.cfg.defaultTTL
	}
	var expires time.Time
	if ttl > 0 {
		expires = m.now().Add(ttl)
	}

	if el, ok := m.index[key]; ok {
		it := el.Value.(*item[V])
		it.value, it.expires = value, expires
		m.order.MoveToFront(el)
		return nil
	}
	if m.cfg.maxEntries > 0 && len(m.index) >= m.cfg.maxEntries {
		if oldest := m.order.Back(); oldest != nil {
			m.drop(oldest)
		}
	}
	m.index[key] = m.order.PushFront(&item[V]{key: key, value: value, expires: expires})
	return nil
}

func (m *Memory[V]) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if el, ok := m.index[key]; ok {
		m.drop(el)
	}
	return nil
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (m *Memory[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.index)
}

// Close stops the sweeper. Safe to call more than once.
func (m *Memory[V]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.stop)
	}
	return nil
}

func (m *Memory[V]) sweep() {
	t := time.NewTicker(m.cfg.sweepEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			m.mu.Lock()
			for el := m.order.Back(); el != nil; {
				prev := el.Prev()
				if m.expired(el.Value.(*item[V])) {
					m.drop(el)
				}
				el = prev
			}
			m.mu.Unlock()
		}
	}
}

// drop removes el. Caller holds m.mu.
func (m *Memory[V]) drop(el *list.Element) {
	m.order.Remove(el)
	delete(m.index, el.Value.(*item[V]).key)
}

var _ Cache[any] = (*Memory[any])(nil)
