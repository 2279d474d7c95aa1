package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	// StateChangeChannel is the Redis pub/sub channel for state changes
	StateChangeChannel = "factorflow:state_changes"
)

// RedisPublisher publishes state change events to Redis pub/sub
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisPublisher creates a new Redis event publisher
func NewRedisPublisher(client redis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{
		client:  client,
		channel: StateChangeChannel,
	}
}

// Publish publishes a state transition event to Redis
func (p *RedisPublisher) Publish(event TransitionEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to Redis: %w", err)
	}

	return nil
}

// Subscribe delivers state change events to handler until ctx is cancelled
func (p *RedisPublisher) Subscribe(ctx context.Context, handler func(TransitionEvent) error) error {
	pubsub := p.client.Subscribe(ctx, p.channel)
	defer pubsub.Close()

	// Wait for subscription confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event TransitionEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.WithError(err).Warn("Dropping malformed state change event")
				continue
			}

			if err := handler(event); err != nil {
				log.WithError(err).WithField("entity_id", event.EntityID).Warn("State change handler failed")
			}
		}
	}
}

// MultiPublisher publishes to multiple publishers
type MultiPublisher struct {
	publishers []EventPublisher
}

// NewMultiPublisher creates a publisher that publishes to multiple publishers
func NewMultiPublisher(publishers ...EventPublisher) *MultiPublisher {
	return &MultiPublisher{
		publishers: publishers,
	}
}

// Publish publishes to all publishers, continuing past individual failures
func (p *MultiPublisher) Publish(event TransitionEvent) error {
	for _, publisher := range p.publishers {
		if err := publisher.Publish(event); err != nil {
			log.WithError(err).WithField("entity_id", event.EntityID).Warn("Publisher failed")
		}
	}
	return nil
}

// LogPublisher writes every transition to the debug log
type LogPublisher struct{}

// Publish logs the event
func (LogPublisher) Publish(event TransitionEvent) error {
	log.WithFields(log.Fields{
		"entity":    event.EntityType,
		"entity_id": event.EntityID,
		"dag_id":    event.DAGID,
		"run_id":    event.RunID,
		"from":      event.OldState,
		"to":        event.NewState,
	}).Debug("State transition")
	return nil
}
