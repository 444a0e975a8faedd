package rabbitmq

import (
	"fmt"
	"sync"

	"github.com/streadway/amqp"
)

type mockPool struct {
	mu             sync.Mutex
	clients        []*mockClient
	closed         bool
	newClientError error
	deliveries     chan amqp.Delivery
}

func newMockPool() *mockPool {
	return &mockPool{deliveries: make(chan amqp.Delivery, 10)}
}

func (m *mockPool) NewClient() (ClientInterface, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("connection pool is closed")
	}
	if m.newClientError != nil {
		return nil, m.newClientError
	}

	client := &mockClient{deliveries: m.deliveries}
	m.clients = append(m.clients, client)
	return client, nil
}

func (m *mockPool) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *mockPool) lastClient() *mockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.clients) == 0 {
		return nil
	}
	return m.clients[len(m.clients)-1]
}

type publishedMessage struct {
	Exchange   string
	RoutingKey string
	Publishing amqp.Publishing
}

type boundQueue struct {
	Name     string
	Key      string
	Exchange string
}

type mockClient struct {
	mu                sync.Mutex
	closed            bool
	publishError      error
	queueDeclareError error
	deliveries        chan amqp.Delivery

	published []publishedMessage
	queues    []string
	exchanges []string
	bindings  []boundQueue
	consumed  []string
	prefetch  int
}

func (m *mockClient) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *mockClient) Publish(exchange, routingKey string, mandatory, immediate bool, msg amqp.Publishing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishError != nil {
		return m.publishError
	}
	m.published = append(m.published, publishedMessage{Exchange: exchange, RoutingKey: routingKey, Publishing: msg})
	return nil
}

func (m *mockClient) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queueDeclareError != nil {
		return amqp.Queue{}, m.queueDeclareError
	}
	m.queues = append(m.queues, name)
	return amqp.Queue{Name: name}, nil
}

func (m *mockClient) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exchanges = append(m.exchanges, name)
	return nil
}

func (m *mockClient) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bindings = append(m.bindings, boundQueue{Name: name, Key: key, Exchange: exchange})
	return nil
}

func (m *mockClient) PublishMessage(queue, exchange, routingKey string, msg amqp.Publishing) error {
	return declareAndPublish(m, queue, exchange, routingKey, msg)
}

func (m *mockClient) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumed = append(m.consumed, queue)
	return m.deliveries, nil
}

func (m *mockClient) Qos(prefetch int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefetch = prefetch
	return nil
}

func (m *mockClient) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// recordingAcknowledger captures acks and nacks of deliveries
type recordingAcknowledger struct {
	mu    sync.Mutex
	acks  []uint64
	nacks []uint64
}

func (r *recordingAcknowledger) Ack(tag uint64, multiple bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acks = append(r.acks, tag)
	return nil
}

func (r *recordingAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nacks = append(r.nacks, tag)
	return nil
}

func (r *recordingAcknowledger) Reject(tag uint64, requeue bool) error {
	return r.Nack(tag, false, requeue)
}

func (r *recordingAcknowledger) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.acks), len(r.nacks)
}
