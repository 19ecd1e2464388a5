package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/notify"
)

// DefaultCompletionChannel is the pub/sub channel completion events go to
// unless configured otherwise.
const DefaultCompletionChannel = "attempts:completed"

// Notifier publishes completion events to a Redis pub/sub channel, for
// downstream consumers (mailers, dashboards) running in other processes.
type Notifier struct {
	client  *redis.Client
	channel string
}

func NewNotifier(client *redis.Client, channel string) *Notifier {
	if channel == "" {
		channel = DefaultCompletionChannel
	}
	return &Notifier{client: client, channel: channel}
}

func (n *Notifier) NotifyCompletion(ctx context.Context, attempt domain.Attempt) error {
	payload, err := json.Marshal(notify.EventFromAttempt(attempt))
	if err != nil {
		return fmt.Errorf("marshal completion event: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish completion event: %w", err)
	}
	return nil
}
