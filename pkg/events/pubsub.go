package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// PubSubEmitter publishes events as JSON messages to a Pub/Sub topic.
// Messages carry verdict, operation and policy_id attributes for
// subscription filters.
type PubSubEmitter struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewPubSubEmitter connects to projectID and binds topicID. The topic must
// already exist.
func NewPubSubEmitter(ctx context.Context, projectID, topicID string, logger *slog.Logger, opts ...option.ClientOption) (*PubSubEmitter, error) {
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PubSubEmitter{
		client: client,
		topic:  client.Topic(topicID),
		logger: logger.With("component", "events.pubsub", "topic", topicID),
	}, nil
}

// Emit queues the event for publishing. Delivery failures are logged.
func (e *PubSubEmitter) Emit(ctx context.Context, event VerdictEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal verdict event: %w", err)
	}

	res := e.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"verdict":   event.Verdict,
			"operation": event.Operation,
			"policy_id": strconv.FormatInt(event.PolicyID, 10),
		},
	})

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		id, err := res.Get(context.WithoutCancel(ctx))
		if err != nil {
			e.logger.Error("pubsub publish failed", "request_id", event.RequestID, "error", err)
			return
		}
		e.logger.Debug("verdict event published", "request_id", event.RequestID, "message_id", id)
	}()
	return nil
}

// Close flushes pending messages and closes the client.
func (e *PubSubEmitter) Close() error {
	e.topic.Stop()
	e.wg.Wait()
	return e.client.Close()
}
