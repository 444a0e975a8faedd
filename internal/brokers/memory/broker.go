// Package memory is an in-process broker. Published messages are kept per
// topic and handed to the topic's subscribers synchronously. It backs
// single-process deployments without a message bus, and tests.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"flow-triggers/internal/brokers"
	"flow-triggers/internal/brokers/base"
	"flow-triggers/internal/common/errors"
	"flow-triggers/internal/common/factory"
	"flow-triggers/internal/common/logging"
)

type Config struct {
	// Retain caps the messages kept per topic; 0 keeps everything
	Retain int
}

func (c *Config) Validate() error {
	if c.Retain < 0 {
		return fmt.Errorf("retain must be non-negative, got %d", c.Retain)
	}
	return nil
}

func (c *Config) GetConnectionString() string { return "memory://" }
func (c *Config) GetType() string             { return "memory" }

type subscription struct {
	ctx     context.Context
	handler *base.MessageHandler
}

type Broker struct {
	*base.BaseBroker
	mu            sync.RWMutex
	closed        bool
	seq           int64
	messages      map[string][]*brokers.Message
	subscriptions map[string][]*subscription
}

func NewBroker(config *Config) (*Broker, error) {
	if config == nil {
		config = &Config{}
	}
	baseBroker, err := base.NewBaseBroker("memory", config)
	if err != nil {
		return nil, err
	}

	return &Broker{
		BaseBroker:    baseBroker,
		messages:      make(map[string][]*brokers.Message),
		subscriptions: make(map[string][]*subscription),
	}, nil
}

func (b *Broker) Connect(config brokers.BrokerConfig) error {
	return base.NewConnectionManager(b.BaseBroker).ValidateAndConnect(config, (*Config)(nil), func(brokers.BrokerConfig) error {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.closed = false
		return nil
	})
}

func (b *Broker) Publish(ctx context.Context, message *brokers.Message) error {
	topic := message.Queue

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.ConnectionError("memory broker closed", nil)
	}
	b.seq++
	id := strconv.FormatInt(b.seq, 10)

	stored := *message
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now()
	}
	b.messages[topic] = append(b.messages[topic], &stored)
	if retain := b.GetConfig().(*Config).Retain; retain > 0 && len(b.messages[topic]) > retain {
		b.messages[topic] = b.messages[topic][len(b.messages[topic])-retain:]
	}
	subs := append([]*subscription(nil), b.subscriptions[topic]...)
	b.mu.Unlock()

	messageID := stored.MessageID
	if messageID == "" {
		messageID = id
	}

	for _, sub := range subs {
		if sub.ctx.Err() != nil {
			continue
		}
		incoming := base.ConvertToIncomingMessage(b.GetBrokerInfo(), base.MessageData{
			ID:        messageID,
			Headers:   copyHeaders(stored.Headers),
			Body:      stored.Body,
			Timestamp: stored.Timestamp,
			Metadata:  map[string]interface{}{"topic": topic, "sequence": id},
		})
		sub.handler.Handle(sub.ctx, incoming, logging.Field{Key: "sequence", Value: id})
	}
	return nil
}

func copyHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[k] = v
	}
	return out
}

func (b *Broker) Subscribe(ctx context.Context, topic string, handler brokers.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.ConnectionError("memory broker closed", nil)
	}

	b.subscriptions[topic] = append(b.subscriptions[topic], &subscription{
		ctx:     ctx,
		handler: base.NewMessageHandler(handler, b.GetLogger(), "memory", topic),
	})
	return nil
}

// Messages returns the messages published to topic, oldest first
func (b *Broker) Messages(topic string) []*brokers.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]*brokers.Message(nil), b.messages[topic]...)
}

func (b *Broker) Health() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errors.ConnectionError("memory broker closed", nil)
	}
	return nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subscriptions = make(map[string][]*subscription)
	return nil
}

// GetFactory returns an in-process broker factory
func GetFactory() brokers.BrokerFactory {
	return factory.NewBrokerFactory[*Config](
		"memory",
		func(config *Config) (brokers.Broker, error) {
			return NewBroker(config)
		},
	)
}

func init() {
	brokers.Register("memory", GetFactory())
}

var _ brokers.Broker = (*Broker)(nil)
