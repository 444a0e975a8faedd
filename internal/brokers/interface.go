// Package brokers defines the message broker abstraction used to receive
// inbound events and to hand workflow start requests to the flow engine.
package brokers

import (
	"context"
	"time"
)

type Broker interface {
	Name() string
	Connect(config BrokerConfig) error
	Publish(ctx context.Context, message *Message) error
	// Subscribe starts consuming topic in the background until ctx is done
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error
	Health() error
	Close() error
}

type BrokerConfig interface {
	Validate() error
	GetConnectionString() string
	GetType() string
}

type Message struct {
	Queue      string
	Exchange   string
	RoutingKey string
	Headers    map[string]string
	Body       []byte
	Timestamp  time.Time
	MessageID  string
}

// MessageHandler processes one delivery. Returning an error leaves the
// message unacknowledged so the broker redelivers it.
type MessageHandler func(ctx context.Context, message *IncomingMessage) error

type IncomingMessage struct {
	ID        string
	Headers   map[string]string
	Body      []byte
	Timestamp time.Time
	Source    BrokerInfo
	Metadata  map[string]interface{}
}

type BrokerInfo struct {
	Name string
	Type string
	URL  string
}

type BrokerFactory interface {
	Create(config BrokerConfig) (Broker, error)
	GetType() string
}
