package rabbitmq

import (
	"github.com/streadway/amqp"
)

// Channel is the subset of *amqp.Channel the broker drives
type Channel interface {
	Publish(exchange, routingKey string, mandatory, immediate bool, msg amqp.Publishing) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Qos(prefetch int) error
}

// ClientInterface is one pooled connection with an open channel. Close
// returns the connection to its pool.
type ClientInterface interface {
	Channel
	PublishMessage(queue, exchange, routingKey string, msg amqp.Publishing) error
	Close()
}

// ConnectionPoolInterface hands out clients; tests replace it with an in-memory pool
type ConnectionPoolInterface interface {
	NewClient() (ClientInterface, error)
	Close()
}

var (
	_ ConnectionPoolInterface = (*ConnectionPool)(nil)
	_ ClientInterface         = (*Client)(nil)
)
