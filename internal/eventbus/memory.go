package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/kandev/orchestratorhub/internal/logging"
)

// MemoryBus is an in-process Bus, used when HUB_NATS_URL is unset. Grounded
// on the teacher's MemoryEventBus, trimmed of queue-group load balancing
// (nothing in this spec load-balances across subscribers of one subject).
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string][]*memorySub
	logger *logging.Logger
	closed bool
}

type memorySub struct {
	bus     *MemoryBus
	subject string
	handler Handler
}

// Unsubscribe removes the subscription from its bus.
func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	subs := s.bus.subs[s.subject]
	for i, sub := range subs {
		if sub == s {
			s.bus.subs[s.subject] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	return nil
}

// NewMemoryBus builds an empty MemoryBus.
func NewMemoryBus(log *logging.Logger) *MemoryBus {
	return &MemoryBus{subs: make(map[string][]*memorySub), logger: log}
}

// Publish delivers event to every current subscriber of subject, synchronously.
func (b *MemoryBus) Publish(ctx context.Context, subject string, event *Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("event bus is closed")
	}
	for _, sub := range b.subs[subject] {
		if err := sub.handler(ctx, event); err != nil && b.logger != nil {
			b.logger.Warn("eventbus: handler error")
		}
	}
	return nil
}

// Subscribe registers handler for subject.
func (b *MemoryBus) Subscribe(subject string, handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &memorySub{bus: b, subject: subject, handler: handler}
	b.subs[subject] = append(b.subs[subject], sub)
	return sub, nil
}

// Close marks the bus closed; further Publish calls fail.
func (b *MemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// IsConnected reports true until Close is called: the in-memory bus has no
// transport to lose.
func (b *MemoryBus) IsConnected() bool { return !b.closed }
