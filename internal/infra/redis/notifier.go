package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"exam-prep-sync/internal/app"
	"exam-prep-sync/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Notifier carries pod change events over Redis Pub/Sub.
// Each pod has its own channel: pod:{podID}.
type Notifier struct {
	client *redis.Client
	logger *slog.Logger
}

func NewNotifier(client *redis.Client, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{client: client, logger: logger}
}

func channelName(podID string) string {
	return "pod:" + podID
}

func (n *Notifier) Publish(ctx context.Context, event domain.PodEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode pod event: %w", err)
	}
	if err := n.client.Publish(ctx, channelName(event.PodID), payload).Err(); err != nil {
		return fmt.Errorf("publish pod event: %w", err)
	}
	return nil
}

// Subscribe returns once Redis has confirmed the subscription, so any
// publish after it returns is delivered.
func (n *Notifier) Subscribe(ctx context.Context, podID string) (app.Subscription, error) {
	pubsub := n.client.Subscribe(ctx, channelName(podID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe pod %s: %w", podID, err)
	}

	sub := &subscription{
		pubsub: pubsub,
		events: make(chan domain.PodEvent, 64),
		done:   make(chan struct{}),
	}
	go sub.forward(n.logger)
	return sub, nil
}

type subscription struct {
	pubsub *redis.PubSub
	events chan domain.PodEvent
	done   chan struct{}
	once   sync.Once
	err    error
}

func (s *subscription) Events() <-chan domain.PodEvent {
	return s.events
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.err = s.pubsub.Close()
		<-s.done
	})
	return s.err
}

func (s *subscription) forward(logger *slog.Logger) {
	defer close(s.done)
	defer close(s.events)
	for msg := range s.pubsub.Channel() {
		var ev domain.PodEvent
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			logger.Warn("discarding malformed pod event", "channel", msg.Channel, "error", err)
			continue
		}
		select {
		case s.events <- ev:
		default:
			// consumer is behind; it re-reads full state on the next event anyway
		}
	}
}
