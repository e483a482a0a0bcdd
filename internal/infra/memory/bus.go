package memory

import (
	"context"
	"sync"

	"exam-prep-sync/internal/app"
	"exam-prep-sync/internal/domain"
)

const busBuffer = 64

// Bus is an in-process pod notification channel. Publishing never blocks:
// a subscriber whose buffer is full misses the event.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[*busSubscription]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[*busSubscription]struct{})}
}

func (b *Bus) Subscribe(ctx context.Context, podID string) (app.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &busSubscription{bus: b, podID: podID, ch: make(chan domain.PodEvent, busBuffer)}
	b.mu.Lock()
	if b.subs[podID] == nil {
		b.subs[podID] = make(map[*busSubscription]struct{})
	}
	b.subs[podID][sub] = struct{}{}
	b.mu.Unlock()
	return sub, nil
}

func (b *Bus) Publish(_ context.Context, event domain.PodEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs[event.PodID] {
		select {
		case sub.ch <- event:
		default:
		}
	}
	return nil
}

// Subscribers reports the number of open subscriptions for a pod.
func (b *Bus) Subscribers(podID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[podID])
}

type busSubscription struct {
	bus   *Bus
	podID string
	ch    chan domain.PodEvent
	once  sync.Once
}

func (s *busSubscription) Events() <-chan domain.PodEvent {
	return s.ch
}

func (s *busSubscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs[s.podID], s)
		if len(s.bus.subs[s.podID]) == 0 {
			delete(s.bus.subs, s.podID)
		}
		close(s.ch)
		s.bus.mu.Unlock()
	})
	return nil
}
