package relay

import (
	"context"
	"sort"
	"sync"

	"claimbridge/core/bridge"
)

// Transport moves an envelope from the verification domain to the settlement
// domain. A nil error means the far side holds the envelope durably; it says
// nothing about whether the mint will apply.
type Transport interface {
	Deliver(ctx context.Context, env bridge.Envelope) error
}

// DeadLetter is an envelope the settlement domain refused permanently.
type DeadLetter struct {
	Envelope bridge.Envelope `json:"envelope"`
	Reason   string          `json:"reason"`
	At       uint64          `json:"at"`
}

// Inbox is the settlement-side holding area for delivered envelopes.
type Inbox interface {
	// Put stores env unless its ticket was seen before. It reports whether
	// the envelope was new.
	Put(env bridge.Envelope) (bool, error)
	// Pending returns up to limit queued envelopes in arrival order.
	Pending(limit int) ([]bridge.Envelope, error)
	// Remove drops a processed envelope from the queue.
	Remove(ticket string) error
	// DeadLetter moves a queued envelope to the dead-letter set.
	DeadLetter(env bridge.Envelope, reason string, at uint64) error
	DeadLetters() ([]DeadLetter, error)
	Depth() (pending int, dead int, err error)
	Close() error
}

// MemoryInbox keeps everything in process memory.
type MemoryInbox struct {
	mu      sync.Mutex
	seen    map[string]struct{}
	order   uint64
	pending map[string]memEntry
	dead    []DeadLetter
}

type memEntry struct {
	order uint64
	env   bridge.Envelope
}

func NewMemoryInbox() *MemoryInbox {
	return &MemoryInbox{
		seen:    make(map[string]struct{}),
		pending: make(map[string]memEntry),
	}
}

func (m *MemoryInbox) Put(env bridge.Envelope) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[env.Ticket]; ok {
		return false, nil
	}
	m.seen[env.Ticket] = struct{}{}
	m.order++
	m.pending[env.Ticket] = memEntry{order: m.order, env: env}
	return true, nil
}

func (m *MemoryInbox) Pending(limit int) ([]bridge.Envelope, error) {
	m.mu.Lock()
	entries := make([]memEntry, 0, len(m.pending))
	for _, e := range m.pending {
		entries = append(entries, e)
	}
	m.mu.Unlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].order < entries[j].order })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	out := make([]bridge.Envelope, len(entries))
	for i, e := range entries {
		out[i] = e.env
	}
	return out, nil
}

func (m *MemoryInbox) Remove(ticket string) error {
	m.mu.Lock()
	delete(m.pending, ticket)
	m.mu.Unlock()
	return nil
}

func (m *MemoryInbox) DeadLetter(env bridge.Envelope, reason string, at uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, env.Ticket)
	m.dead = append(m.dead, DeadLetter{Envelope: env, Reason: reason, At: at})
	return nil
}

func (m *MemoryInbox) DeadLetters() ([]DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DeadLetter(nil), m.dead...), nil
}

func (m *MemoryInbox) Depth() (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending), len(m.dead), nil
}

func (m *MemoryInbox) Close() error { return nil }

// LocalTransport hands envelopes straight to an inbox. Used when both domains
// run in one process.
type LocalTransport struct {
	inbox Inbox
}

func NewLocalTransport(inbox Inbox) *LocalTransport {
	return &LocalTransport{inbox: inbox}
}

func (t *LocalTransport) Deliver(ctx context.Context, env bridge.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := env.Check(); err != nil {
		return err
	}
	_, err := t.inbox.Put(env)
	return err
}
