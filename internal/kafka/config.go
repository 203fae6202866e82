package kafka

import (
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

const (
	TopicCheckoutCompleted = "chainpaye.checkout.completed"
	TopicDLQ               = "chainpaye.dlq"
)

// Event types written to checkout_outbox.
const (
	EventCheckoutCompleted = "checkout.completed"
)

const (
	GroupNotifier = "chainpaye.notifier"
)

// TopicForEvent routes an outbox event type to its topic. Unknown types go to
// the dead letter topic.
func TopicForEvent(eventType string) string {
	switch eventType {
	case EventCheckoutCompleted:
		return TopicCheckoutCompleted
	default:
		return TopicDLQ
	}
}

type Config struct {
	Brokers           []string
	ProducerTimeout   time.Duration
	RequiredAcks      kgo.Acks
	SessionTimeout    time.Duration
	HeartbeatInterval time.Duration
	MaxRetries        int
	RetryBackoff      time.Duration
}

func DefaultConfig(brokers []string) *Config {
	return &Config{
		Brokers:           brokers,
		ProducerTimeout:   10 * time.Second,
		RequiredAcks:      kgo.AllISRAcks(),
		SessionTimeout:    10 * time.Second,
		HeartbeatInterval: 3 * time.Second,
		MaxRetries:        3,
		RetryBackoff:      time.Second,
	}
}
