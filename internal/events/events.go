// Package events publishes a record of every completed conversation turn.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// ConversationEvent is emitted after an answer has been persisted.
type ConversationEvent struct {
	SessionID   string    `json:"session_id"`
	UserMessage string    `json:"user_message"`
	Answer      string    `json:"answer"`
	Provider    string    `json:"provider"`
	Turns       int       `json:"turns"`
	ToolCalls   int       `json:"tool_calls"`
	At          time.Time `json:"at"`
}

// Publisher delivers conversation events.
type Publisher interface {
	Publish(ctx context.Context, ev ConversationEvent) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, ConversationEvent) error { return nil }
func (Nop) Close() error                                     { return nil }

// KafkaPublisher produces events as JSON records keyed by session id.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
}

// NewKafkaPublisher connects to brokers. The topic is created on first
// produce when the cluster allows it.
func NewKafkaPublisher(brokers []string, topic string, opts ...kgo.Opt) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka: no topic configured")
	}
	opts = append([]kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.AllowAutoTopicCreation(),
	}, opts...)

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka: connect: %w", err)
	}
	return &KafkaPublisher{client: client, topic: topic}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev ConversationEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("kafka: marshal event: %w", err)
	}
	if err := p.client.ProduceSync(ctx, &kgo.Record{
		Topic: p.topic,
		Key:   []byte(ev.SessionID),
		Value: value,
	}).FirstErr(); err != nil {
		return fmt.Errorf("kafka: publish to %q: %w", p.topic, err)
	}
	slog.Debug("conversation event published", "topic", p.topic, "session", ev.SessionID)
	return nil
}

func (p *KafkaPublisher) Close() error {
	p.client.Close()
	return nil
}
