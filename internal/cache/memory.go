package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store + PubSub used by tests and by adarena-cli
// dry runs. Expiry is checked lazily on read.
type Memory struct {
	mu      sync.Mutex
	kv      map[string]memEntry
	lists   map[string][]string
	hashes  map[string]map[string]string
	streams map[string][]map[string]string
	subs    map[string][]*memSubscription
}

type memEntry struct {
	value   string
	expires time.Time // zero means no expiry
}

func NewMemory() *Memory {
	return &Memory{
		kv:      make(map[string]memEntry),
		lists:   make(map[string][]string),
		hashes:  make(map[string]map[string]string),
		streams: make(map[string][]map[string]string),
		subs:    make(map[string][]*memSubscription),
	}
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.kv[key]
	if !ok || (!e.expires.IsZero() && time.Now().After(e.expires)) {
		delete(m.kv, key)
		return "", ErrMiss
	}
	return e.value, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memEntry{value: value}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	m.kv[key] = e
	return nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.kv, k)
		delete(m.lists, k)
		delete(m.hashes, k)
		delete(m.streams, k)
	}
	return nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	if _, err := m.Get(ctx, key); err == nil {
		return true, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lists[key]; ok {
		return true, nil
	}
	if _, ok := m.hashes[key]; ok {
		return true, nil
	}
	if _, ok := m.streams[key]; ok {
		return true, nil
	}
	return false, nil
}

func (m *Memory) LPush(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[key] = append([]string{value}, m.lists[key]...)
	return nil
}

// BRPopLPush polls instead of blocking on a condition variable; test
// workloads never wait longer than a few of these intervals.
func (m *Memory) BRPopLPush(ctx context.Context, src, dst string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		m.mu.Lock()
		if l := m.lists[src]; len(l) > 0 {
			v := l[len(l)-1]
			m.lists[src] = l[:len(l)-1]
			m.lists[dst] = append([]string{v}, m.lists[dst]...)
			m.mu.Unlock()
			return v, nil
		}
		m.mu.Unlock()
		if timeout > 0 && time.Now().After(deadline) {
			return "", ErrMiss
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (m *Memory) LRem(_ context.Context, key string, count int64, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.lists[key][:0]
	removed := int64(0)
	for _, v := range m.lists[key] {
		if v == value && (count == 0 || removed < count) {
			removed++
			continue
		}
		out = append(out, v)
	}
	m.lists[key] = out
	return nil
}

func (m *Memory) LLen(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.lists[key])), nil
}

func (m *Memory) HSet(_ context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (m *Memory) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.hashes[key]))
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) XAdd(_ context.Context, stream string, maxLen int64, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(map[string]string, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	s := append(m.streams[stream], cp)
	if maxLen > 0 && int64(len(s)) > maxLen {
		s = s[int64(len(s))-maxLen:]
	}
	m.streams[stream] = s
	return nil
}

func (m *Memory) XRange(_ context.Context, stream string) ([]map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]string, len(m.streams[stream]))
	copy(out, m.streams[stream])
	return out, nil
}

func (m *Memory) XLen(_ context.Context, stream string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.streams[stream])), nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.kv[key]; ok {
		e.expires = time.Now().Add(ttl)
		m.kv[key] = e
	}
	return nil
}

func (m *Memory) Publish(_ context.Context, channel, payload string) error {
	m.mu.Lock()
	subs := append([]*memSubscription(nil), m.subs[channel]...)
	m.mu.Unlock()
	for _, s := range subs {
		s.deliver(payload)
	}
	return nil
}

func (m *Memory) Subscribe(_ context.Context, channel string) (Subscription, error) {
	s := &memSubscription{mem: m, channel: channel, out: make(chan string, 64)}
	m.mu.Lock()
	m.subs[channel] = append(m.subs[channel], s)
	m.mu.Unlock()
	return s, nil
}

type memSubscription struct {
	mem     *Memory
	channel string
	out     chan string
	once    sync.Once
}

func (s *memSubscription) deliver(payload string) {
	defer func() { recover() }() // racing Close is fine in tests
	select {
	case s.out <- payload:
	default:
	}
}

func (s *memSubscription) Messages() <-chan string { return s.out }

func (s *memSubscription) Close() error {
	s.once.Do(func() {
		s.mem.mu.Lock()
		subs := s.mem.subs[s.channel]
		for i, sub := range subs {
			if sub == s {
				s.mem.subs[s.channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		s.mem.mu.Unlock()
		close(s.out)
	})
	return nil
}
