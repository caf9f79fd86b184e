package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	key      string
	data     []byte
	expireAt time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && now.After(e.expireAt)
}

// MemoryCache implements Service in process with LRU eviction. It stores the
// encoded bytes so Get behaves like the Redis implementation. The front of
// order is the most recently used key.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
	maxSize int

	ticker    *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryCache creates an in-memory cache and starts its expiry sweeper.
func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	cfg := &MemoryConfig{
		MaxSize:         1000,
		CleanupInterval: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	mc := &MemoryCache{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		maxSize: cfg.MaxSize,
		ticker:  time.NewTicker(cfg.CleanupInterval),
		done:    make(chan struct{}),
	}
	go mc.sweep()
	return mc
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	var expireAt time.Time
	if expiration > 0 {
		expireAt = time.Now().Add(expiration)
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()

	if el, ok := mc.entries[key]; ok {
		e := el.Value.(*memoryEntry)
		e.data, e.expireAt = data, expireAt
		mc.order.MoveToFront(el)
		return nil
	}
	for mc.maxSize > 0 && len(mc.entries) >= mc.maxSize {
		mc.removeElement(mc.order.Back())
	}
	mc.entries[key] = mc.order.PushFront(&memoryEntry{key: key, data: data, expireAt: expireAt})
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	mc.mu.Lock()
	e, ok := mc.touch(key, time.Now())
	var data []byte
	if ok {
		data = e.data
	}
	mc.mu.Unlock()

	if !ok {
		return ErrCacheMiss
	}
	return decode(data, dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, key := range keys {
		if el, ok := mc.entries[key]; ok {
			mc.removeElement(el)
		}
	}
	return nil
}

func (mc *MemoryCache) Expire(_ context.Context, key string, expiration time.Duration) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	e, ok := mc.touch(key, time.Now())
	if !ok {
		return false, nil
	}
	e.expireAt = time.Time{}
	if expiration > 0 {
		e.expireAt = time.Now().Add(expiration)
	}
	return true, nil
}

// Len returns the number of stored keys, expired ones included until swept.
func (mc *MemoryCache) Len() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return len(mc.entries)
}

// touch marks key as used. An expired entry is dropped instead. Callers hold mu.
func (mc *MemoryCache) touch(key string, now time.Time) (*memoryEntry, bool) {
	el, ok := mc.entries[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*memoryEntry)
	if e.expired(now) {
		mc.removeElement(el)
		return nil, false
	}
	mc.order.MoveToFront(el)
	return e, true
}

func (mc *MemoryCache) removeElement(el *list.Element) {
	if el == nil {
		return
	}
	mc.order.Remove(el)
	delete(mc.entries, el.Value.(*memoryEntry).key)
}

func (mc *MemoryCache) sweep() {
	for {
		select {
		case <-mc.done:
			return
		case now := <-mc.ticker.C:
			mc.mu.Lock()
			for el := mc.order.Back(); el != nil; {
				prev := el.Prev()
				if el.Value.(*memoryEntry).expired(now) {
					mc.removeElement(el)
				}
				el = prev
			}
			mc.mu.Unlock()
		}
	}
}

// Close stops the sweeper.
func (mc *MemoryCache) Close() error {
	mc.closeOnce.Do(func() {
		mc.ticker.Stop()
		close(mc.done)
	})
	return nil
}
