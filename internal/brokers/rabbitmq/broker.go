// Package rabbitmq implements the broker interface over AMQP with a small
// connection pool. Failed deliveries are requeued.
package rabbitmq

import (
	"context"
	"fmt"
	"time"

	"github.com/streadway/amqp"

	"flow-triggers/internal/brokers"
	"flow-triggers/internal/brokers/base"
	"flow-triggers/internal/common/errors"
	"flow-triggers/internal/common/logging"
)

type Broker struct {
	*base.BaseBroker
	pool              ConnectionPoolInterface
	connectionManager *base.ConnectionManager
}

// NewBroker validates config and dials the connection pool
func NewBroker(config *Config) (*Broker, error) {
	baseBroker, err := base.NewBaseBroker("rabbitmq", config)
	if err != nil {
		return nil, err
	}

	pool, err := NewConnectionPool(config.URL, config.PoolSize)
	if err != nil {
		return nil, errors.ConnectionError("failed to create RabbitMQ connection pool", err)
	}

	return &Broker{
		BaseBroker:        baseBroker,
		pool:              pool,
		connectionManager: base.NewConnectionManager(baseBroker),
	}, nil
}

// NewBrokerWithPool creates a broker over an existing pool
func NewBrokerWithPool(config *Config, pool ConnectionPoolInterface) (*Broker, error) {
	baseBroker, err := base.NewBaseBroker("rabbitmq", config)
	if err != nil {
		return nil, err
	}

	return &Broker{
		BaseBroker:        baseBroker,
		pool:              pool,
		connectionManager: base.NewConnectionManager(baseBroker),
	}, nil
}

func (b *Broker) Connect(config brokers.BrokerConfig) error {
	return b.connectionManager.ValidateAndConnect(config, (*Config)(nil), func(validated brokers.BrokerConfig) error {
		rmqConfig := validated.(*Config)

		pool, err := NewConnectionPool(rmqConfig.URL, rmqConfig.PoolSize)
		if err != nil {
			return errors.ConnectionError("failed to create RabbitMQ connection pool", err)
		}

		if b.pool != nil {
			b.pool.Close()
		}
		b.pool = pool
		return nil
	})
}

// Publish sends message to its queue, or through its exchange when one is set
func (b *Broker) Publish(ctx context.Context, message *brokers.Message) error {
	if err := base.StandardHealthCheck(b.pool, "RabbitMQ"); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	client, err := b.pool.NewClient()
	if err != nil {
		return errors.ConnectionError("failed to get RabbitMQ client", err)
	}
	defer client.Close()

	timestamp := message.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	headers := amqp.Table{}
	for key, value := range message.Headers {
		headers[key] = value
	}

	err = client.PublishMessage(message.Queue, message.Exchange, message.RoutingKey, amqp.Publishing{
		Headers:      headers,
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    message.MessageID,
		Timestamp:    timestamp,
		Body:         message.Body,
	})
	if err != nil {
		return errors.InternalError("failed to publish message to RabbitMQ", err)
	}
	return nil
}

// Subscribe consumes the durable queue named topic until ctx is done
func (b *Broker) Subscribe(ctx context.Context, topic string, handler brokers.MessageHandler) error {
	if err := base.StandardHealthCheck(b.pool, "RabbitMQ"); err != nil {
		return err
	}

	client, err := b.pool.NewClient()
	if err != nil {
		return errors.ConnectionError("failed to get RabbitMQ client", err)
	}

	if _, err = client.QueueDeclare(topic, true, false, false, false, nil); err != nil {
		client.Close()
		return errors.InternalError("failed to declare queue "+topic, err)
	}

	if prefetch := b.GetConfig().(*Config).Prefetch; prefetch > 0 {
		if err := client.Qos(prefetch); err != nil {
			client.Close()
			return errors.InternalError("failed to set prefetch", err)
		}
	}

	msgs, err := client.Consume(topic, "", false, false, false, false, nil)
	if err != nil {
		client.Close()
		return errors.InternalError("failed to start consuming from queue "+topic, err)
	}

	messageHandler := base.NewMessageHandler(handler, b.GetLogger(), "rabbitmq", topic)

	go func() {
		defer client.Close()
		for {
			select {
			case <-ctx.Done():
				b.GetLogger().Info("RabbitMQ subscription cancelled",
					logging.Field{Key: "topic", Value: topic},
				)
				return
			case msg, ok := <-msgs:
				if !ok {
					b.GetLogger().Info("RabbitMQ message channel closed",
						logging.Field{Key: "topic", Value: topic},
					)
					return
				}

				incoming := base.ConvertToIncomingMessage(b.GetBrokerInfo(), base.MessageData{
					ID:        msg.MessageId,
					Headers:   convertAMQPHeaders(msg.Headers),
					Body:      msg.Body,
					Timestamp: msg.Timestamp,
					Metadata: map[string]interface{}{
						"delivery_tag": msg.DeliveryTag,
						"routing_key":  msg.RoutingKey,
						"exchange":     msg.Exchange,
						"redelivered":  msg.Redelivered,
					},
				})

				if messageHandler.Handle(ctx, incoming, logging.Field{Key: "routing_key", Value: msg.RoutingKey}) {
					msg.Ack(false)
				} else {
					msg.Nack(false, true)
				}
			}
		}
	}()

	return nil
}

// Health opens a client and declares a temporary queue
func (b *Broker) Health() error {
	if err := base.StandardHealthCheck(b.pool, "RabbitMQ"); err != nil {
		return err
	}

	client, err := b.pool.NewClient()
	if err != nil {
		return errors.ConnectionError("failed to get RabbitMQ client for health check", err)
	}
	defer client.Close()

	_, err = client.QueueDeclare("flow-triggers-health", false, true, false, false, nil)
	return err
}

func (b *Broker) Close() error {
	if b.pool != nil {
		b.pool.Close()
		b.pool = nil
	}
	return nil
}

func convertAMQPHeaders(headers amqp.Table) map[string]string {
	result := make(map[string]string, len(headers))
	for key, value := range headers {
		if str, ok := value.(string); ok {
			result[key] = str
		} else {
			result[key] = fmt.Sprintf("%v", value)
		}
	}
	return result
}

var _ brokers.Broker = (*Broker)(nil)
