package bus

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/impulso-energetico/comision/internal/domain"
)

func TestChannelBus(t *testing.T) {
	ctx := context.Background()

	t.Run("PublishSubscribe", func(t *testing.T) {
		b := NewChannelBus(10)
		defer b.Close()

		received := make(chan *domain.Message, 1)
		_, err := b.Subscribe(ctx, "tenant-1", domain.TopicRuleChanged, func(ctx context.Context, msg *domain.Message) error {
			received <- msg
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}

		event := domain.RuleChangedEvent{
			Action:    "created",
			RuleID:    "rule-1",
			TenantID:  "tenant-1",
			SectionID: "luz",
			Level:     domain.LevelC1,
			Active:    true,
		}
		payload, _ := json.Marshal(event)

		if err := b.Publish(ctx, "tenant-1", domain.TopicRuleChanged, payload); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		select {
		case msg := <-received:
			if msg.Scope != "tenant-1" || msg.Topic != domain.TopicRuleChanged {
				t.Errorf("unexpected message envelope: %+v", msg)
			}
			var got domain.RuleChangedEvent
			if err := json.Unmarshal(msg.Payload, &got); err != nil {
				t.Fatalf("failed to unmarshal payload: %v", err)
			}
			if got.RuleID != "rule-1" || got.Action != "created" {
				t.Errorf("unexpected event: %+v", got)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for message")
		}
	})

	t.Run("ScopeIsolation", func(t *testing.T) {
		b := NewChannelBus(10)
		defer b.Close()

		var count atomic.Int64
		_, _ = b.Subscribe(ctx, "tenant-1", domain.TopicSettlementCreated, func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})

		// Publish to a different scope and to the global scope
		_ = b.Publish(ctx, "tenant-2", domain.TopicSettlementCreated, []byte("{}"))
		_ = b.Publish(ctx, "*", domain.TopicSettlementCreated, []byte("{}"))

		time.Sleep(50 * time.Millisecond)
		if count.Load() != 0 {
			t.Errorf("subscriber received messages from foreign scopes: %d", count.Load())
		}

		_ = b.Publish(ctx, "tenant-1", domain.TopicSettlementCreated, []byte("{}"))
		time.Sleep(50 * time.Millisecond)
		if count.Load() != 1 {
			t.Errorf("expected 1 message, got %d", count.Load())
		}
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		b := NewChannelBus(10)
		defer b.Close()

		var count atomic.Int64
		for i := 0; i < 3; i++ {
			_, _ = b.Subscribe(ctx, "tenant-1", domain.TopicRuleChanged, func(ctx context.Context, msg *domain.Message) error {
				count.Add(1)
				return nil
			})
		}

		_ = b.Publish(ctx, "tenant-1", domain.TopicRuleChanged, []byte("{}"))
		time.Sleep(50 * time.Millisecond)
		if count.Load() != 3 {
			t.Errorf("expected 3 deliveries, got %d", count.Load())
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		b := NewChannelBus(10)
		defer b.Close()

		var count atomic.Int64
		sub, _ := b.Subscribe(ctx, "tenant-1", domain.TopicRuleChanged, func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})

		_ = sub.Unsubscribe()
		time.Sleep(10 * time.Millisecond)

		_ = b.Publish(ctx, "tenant-1", domain.TopicRuleChanged, []byte("{}"))
		time.Sleep(50 * time.Millisecond)
		if count.Load() != 0 {
			t.Errorf("unsubscribed handler should not receive messages, got %d", count.Load())
		}
	})

	t.Run("RequiresScope", func(t *testing.T) {
		b := NewChannelBus(10)
		defer b.Close()

		if err := b.Publish(ctx, "", "topic", []byte("{}")); err == nil {
			t.Error("expected error for empty scope")
		}
		if _, err := b.Subscribe(ctx, "", "topic", nil); err == nil {
			t.Error("expected error for empty scope")
		}
	})

	t.Run("ClosedBus", func(t *testing.T) {
		b := NewChannelBus(10)
		_ = b.Close()

		if err := b.Publish(ctx, "tenant-1", "topic", []byte("{}")); err == nil {
			t.Error("expected error publishing to closed bus")
		}
		if err := b.Ping(ctx); err == nil {
			t.Error("expected ping failure on closed bus")
		}
	})
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		b, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 10})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer b.Close()

		if _, ok := b.(*ChannelBus); !ok {
			t.Error("expected ChannelBus for channel type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}
