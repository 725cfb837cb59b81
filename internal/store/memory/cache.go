package memory

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tradekernel/internal/domain"
)

// ActionLog implements domain.ActionLog with per-key timestamp slices.
type ActionLog struct {
	mu      sync.Mutex
	actions map[string][]time.Time
}

// NewActionLog creates an empty ActionLog.
func NewActionLog() *ActionLog {
	return &ActionLog{actions: make(map[string][]time.Time)}
}

// Record appends one occurrence of action by actorID at at.
func (l *ActionLog) Record(_ context.Context, actorID, action string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := actorID + "|" + action
	l.actions[k] = append(l.actions[k], at)
	return nil
}

// CountSince counts actorID's occurrences of action at or after since.
// Nothing is pruned; the log lives as long as the process.
func (l *ActionLog) CountSince(_ context.Context, actorID, action string, since time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, at := range l.actions[actorID+"|"+action] {
		if !at.Before(since) {
			n++
		}
	}
	return n, nil
}

// LockManager implements domain.LockManager for a single process.
type LockManager struct {
	mu    sync.Mutex
	held  map[string]string
	until map[string]time.Time
}

// NewLockManager creates a LockManager with no locks held.
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]string), until: make(map[string]time.Time)}
}

// Acquire takes key for ttl and returns its release function, or
// ErrLockHeld while another holder's lease is live. An expired lease is
// taken over; releasing it afterwards is a no-op for the previous holder.
func (m *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.held[key]; ok && time.Now().Before(m.until[key]) {
		return nil, domain.ErrLockHeld
	}
	token := uuid.NewString()
	m.held[key] = token
	m.until[key] = time.Now().Add(ttl)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.held[key] == token {
				delete(m.held, key)
				delete(m.until, key)
			}
		})
	}, nil
}

// RateLimiter implements domain.RateLimiter as an in-process sliding
// window.
type RateLimiter struct {
	mu   sync.Mutex
	hits map[string][]time.Time
	now  func() time.Time
}

// NewRateLimiter creates a RateLimiter on the wall clock.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{hits: make(map[string][]time.Time), now: time.Now}
}

// Allow records a hit for key and reports whether it is within limit hits
// per trailing window. Rejected hits are not counted.
func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	cutoff := now.Add(-window)
	hits := rl.hits[key]
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	hits = hits[i:]
	if len(hits) >= limit {
		rl.hits[key] = hits
		return false, nil
	}
	rl.hits[key] = append(hits, now)
	return true, nil
}

// Wait blocks until one request per second is allowed for key.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if ok, _ := rl.Allow(ctx, key, 1, time.Second); ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// SignalBus implements domain.SignalBus in process. Channel names support
// the same glob patterns as Redis PSUBSCRIBE.
type SignalBus struct {
	mu      sync.Mutex
	subs    map[int]subscription
	nextID  int
	streams map[string][]domain.StreamMessage
}

type subscription struct {
	pattern string
	out     chan []byte
}

// NewSignalBus creates a SignalBus with no subscribers.
func NewSignalBus() *SignalBus {
	return &SignalBus{subs: make(map[int]subscription), streams: make(map[string][]domain.StreamMessage)}
}

// Publish delivers payload to every matching subscriber, dropping it for
// subscribers whose buffer is full.
func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		if ok, _ := path.Match(s.pattern, channel); !ok {
			continue
		}
		select {
		case s.out <- payload:
		default:
		}
	}
	return nil
}

// Subscribe returns a buffered channel of payloads published to channels
// matching the pattern. It is closed when ctx ends.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	out := make(chan []byte, 128)
	b.subs[id] = subscription{pattern: channel, out: out}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(out)
		b.mu.Unlock()
	}()
	return out, nil
}

// StreamAppend appends payload to stream.
func (b *SignalBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.streams[stream]
	id := uuid.NewString()
	b.streams[stream] = append(msgs, domain.StreamMessage{ID: id, Payload: payload})
	return nil
}

// StreamRead returns up to count messages after lastID. "0" reads from the
// start.
func (b *SignalBus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.streams[stream]
	start := 0
	if lastID != "0" && lastID != "0-0" && lastID != "" {
		for i, m := range msgs {
			if m.ID == lastID {
				start = i + 1
				break
			}
		}
	}
	msgs = msgs[start:]
	if count > 0 && len(msgs) > count {
		msgs = msgs[:count]
	}
	out := make([]domain.StreamMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

var (
	_ domain.ActionLog   = (*ActionLog)(nil)
	_ domain.LockManager = (*LockManager)(nil)
	_ domain.RateLimiter = (*RateLimiter)(nil)
	_ domain.SignalBus   = (*SignalBus)(nil)
)
