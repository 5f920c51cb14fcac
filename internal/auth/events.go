package auth

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const eventBufferSize = 16

// Broker fans session events out to subscribers. Publishing never blocks:
// a subscriber whose buffer is full misses the event.
type Broker struct {
	mu     sync.RWMutex
	subs   map[uint64]chan SessionEvent
	nextID uint64
	logger *zap.Logger
	now    func() time.Time
}

func NewBroker(logger *zap.Logger) *Broker {
	return &Broker{
		subs:   make(map[uint64]chan SessionEvent),
		logger: logger,
		now:    time.Now,
	}
}

// Publish sends an event of type t for accountID to every subscriber.
func (b *Broker) Publish(t SessionEventType, accountID string) {
	ev := SessionEvent{Type: t, AccountID: accountID, At: b.now().UTC()}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("session event dropped for slow subscriber",
				zap.Uint64("subscriber", id),
				zap.String("event", string(t)))
		}
	}
}

// Subscribe returns a channel of events that is closed once ctx is done.
func (b *Broker) Subscribe(ctx context.Context) <-chan SessionEvent {
	ch := make(chan SessionEvent, eventBufferSize)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

// Subscribers returns the number of live subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
