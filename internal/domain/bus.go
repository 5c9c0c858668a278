package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro). Topics are namespaced by
// scope cache key; global events use "*".
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, scope string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	Subscribe(ctx context.Context, scope string, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Scope     string            `json:"scope"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string

	// Channel settings (Community tier)
	ChannelBufferSize int

	// NATS settings (Pro tier)
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Standard topic names for the settlement pipeline.
const (
	// TopicRuleChanged announces a rule create/update/toggle so caches and
	// downstream consumers can react.
	TopicRuleChanged = "comision.rule.changed"

	// TopicSettlementRequested carries async settlement requests (Pro tier).
	TopicSettlementRequested = "comision.settlement.requested"

	// TopicSettlementCreated announces a persisted settlement.
	TopicSettlementCreated = "comision.settlement.created"

	// TopicSettlementUnresolved flags a settlement request with no
	// configured rule, for administrator attention.
	TopicSettlementUnresolved = "comision.settlement.unresolved"
)

// RuleChangedEvent is the payload published on TopicRuleChanged.
type RuleChangedEvent struct {
	Action       string `json:"action"` // "created", "updated", "toggled"
	RuleID       string `json:"ruleId"`
	TenantID     string `json:"tenantId,omitempty"`
	SectionID    string `json:"sectionId"`
	SubSectionID string `json:"subSectionId,omitempty"`
	Level        Level  `json:"level"`
	Active       bool   `json:"active"`
}
