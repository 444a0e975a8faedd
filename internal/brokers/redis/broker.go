// Package redis implements the broker interface on Redis Streams with
// consumer groups. Messages are acknowledged only after the handler succeeds.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"flow-triggers/internal/brokers"
	"flow-triggers/internal/brokers/base"
	"flow-triggers/internal/common/errors"
	"flow-triggers/internal/common/logging"
)

const defaultStream = "flow-triggers"

type Broker struct {
	*base.BaseBroker
	mu                sync.RWMutex
	client            *redis.Client
	connectionManager *base.ConnectionManager
}

// NewBroker validates config and connects to Redis
func NewBroker(config *Config) (*Broker, error) {
	baseBroker, err := base.NewBaseBroker("redis", config)
	if err != nil {
		return nil, err
	}

	client, err := dial(config)
	if err != nil {
		return nil, err
	}

	return &Broker{
		BaseBroker:        baseBroker,
		client:            client,
		connectionManager: base.NewConnectionManager(baseBroker),
	}, nil
}

func dial(config *Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        config.Address,
		Password:    config.Password,
		DB:          config.DB,
		PoolSize:    config.PoolSize,
		DialTimeout: config.Timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.ConnectionError("failed to connect to Redis", err)
	}
	return client, nil
}

func (b *Broker) getClient() *redis.Client {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.client
}

// Connect replaces the connection with one built from config
func (b *Broker) Connect(config brokers.BrokerConfig) error {
	return b.connectionManager.ValidateAndConnect(config, (*Config)(nil), func(validated brokers.BrokerConfig) error {
		client, err := dial(validated.(*Config))
		if err != nil {
			return err
		}

		b.mu.Lock()
		old := b.client
		b.client = client
		b.mu.Unlock()

		if old != nil {
			old.Close()
		}
		return nil
	})
}

// Publish appends message to the stream named by message.Queue
func (b *Broker) Publish(ctx context.Context, message *brokers.Message) error {
	client := b.getClient()
	if client == nil {
		return errors.ConnectionError("Redis broker not connected", nil)
	}

	streamName := message.Queue
	if streamName == "" {
		streamName = defaultStream
	}

	timestamp := message.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	fields := map[string]interface{}{
		"body":       string(message.Body),
		"timestamp":  timestamp.UnixNano(),
		"message_id": message.MessageID,
	}
	if message.RoutingKey != "" {
		fields["routing_key"] = message.RoutingKey
	}
	for key, value := range message.Headers {
		fields["header_"+key] = value
	}

	args := &redis.XAddArgs{
		Stream: streamName,
		ID:     "*",
		Values: fields,
	}
	if maxLen := b.GetConfig().(*Config).StreamMaxLen; maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}

	id, err := client.XAdd(ctx, args).Result()
	if err != nil {
		return errors.InternalError("failed to publish message to Redis stream", err)
	}

	b.GetLogger().Debug("Message published to Redis stream",
		logging.Field{Key: "stream", Value: streamName},
		logging.Field{Key: "id", Value: id},
	)
	return nil
}

// Subscribe reads topic through the configured consumer group until ctx is done
func (b *Broker) Subscribe(ctx context.Context, topic string, handler brokers.MessageHandler) error {
	client := b.getClient()
	if client == nil {
		return errors.ConnectionError("Redis broker not connected", nil)
	}

	config := b.GetConfig().(*Config)

	err := client.XGroupCreateMkStream(ctx, topic, config.ConsumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return errors.InternalError("failed to create consumer group", err)
	}

	messageHandler := base.NewMessageHandler(handler, b.GetLogger(), "redis", topic)

	go func() {
		for {
			select {
			case <-ctx.Done():
				b.GetLogger().Info("Redis subscription cancelled",
					logging.Field{Key: "stream", Value: topic},
					logging.Field{Key: "consumer_group", Value: config.ConsumerGroup},
				)
				return
			default:
			}

			client := b.getClient()
			if client == nil {
				b.GetLogger().Warn("Redis client closed, ending subscription",
					logging.Field{Key: "stream", Value: topic},
				)
				return
			}

			streams, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    config.ConsumerGroup,
				Consumer: config.ConsumerName,
				Streams:  []string{topic, ">"},
				Count:    10,
				Block:    100 * time.Millisecond,
			}).Result()
			if err != nil {
				if err == redis.Nil || ctx.Err() != nil {
					continue
				}
				b.GetLogger().Error("Redis consumer error", err,
					logging.Field{Key: "stream", Value: topic},
					logging.Field{Key: "consumer_group", Value: config.ConsumerGroup},
				)
				time.Sleep(100 * time.Millisecond)
				continue
			}

			for _, stream := range streams {
				for _, message := range stream.Messages {
					incoming := base.ConvertToIncomingMessage(b.GetBrokerInfo(), streamMessageData(topic, config, message))

					if messageHandler.Handle(ctx, incoming, logging.Field{Key: "stream_id", Value: message.ID}) {
						if err := client.XAck(ctx, topic, config.ConsumerGroup, message.ID).Err(); err != nil {
							b.GetLogger().Error("Failed to acknowledge Redis message", err,
								logging.Field{Key: "stream", Value: topic},
								logging.Field{Key: "stream_id", Value: message.ID},
							)
						}
					}
				}
			}
		}
	}()

	return nil
}

func streamMessageData(topic string, config *Config, message redis.XMessage) base.MessageData {
	headers := make(map[string]string)
	var body []byte
	var routingKey, messageID string
	timestamp := time.Now()

	for field, value := range message.Values {
		str := fmt.Sprintf("%v", value)
		switch field {
		case "body":
			body = []byte(str)
		case "routing_key":
			routingKey = str
		case "message_id":
			messageID = str
		case "timestamp":
			if ns, err := strconv.ParseInt(str, 10, 64); err == nil && ns > 0 {
				timestamp = time.Unix(0, ns)
			}
		default:
			if strings.HasPrefix(field, "header_") {
				headers[strings.TrimPrefix(field, "header_")] = str
			}
		}
	}

	id := messageID
	if id == "" {
		id = message.ID
	}

	return base.MessageData{
		ID:        id,
		Headers:   headers,
		Body:      body,
		Timestamp: timestamp,
		Metadata: map[string]interface{}{
			"stream":         topic,
			"stream_id":      message.ID,
			"consumer_group": config.ConsumerGroup,
			"consumer_name":  config.ConsumerName,
			"routing_key":    routingKey,
		},
	}
}

func (b *Broker) Health() error {
	client := b.getClient()
	if client == nil {
		return errors.ConfigError("Redis client not initialized")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return client.Ping(ctx).Err()
}

func (b *Broker) Close() error {
	b.mu.Lock()
	client := b.client
	b.client = nil
	b.mu.Unlock()

	if client != nil {
		return client.Close()
	}
	return nil
}

var _ brokers.Broker = (*Broker)(nil)
