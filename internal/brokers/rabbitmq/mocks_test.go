package rabbitmq_test

import (
	"fmt"
	"sync"

	"github.com/streadway/amqp"

	"storefront-fulfillment/internal/brokers/rabbitmq"
)

// MockConnectionPool implements ConnectionPoolInterface for testing
type MockConnectionPool struct {
	client         *MockClient
	closed         bool
	newClientError error
	mu             sync.Mutex
}

func NewMockConnectionPool() *MockConnectionPool {
	return &MockConnectionPool{client: NewMockClient()}
}

func (m *MockConnectionPool) NewClient() (rabbitmq.ClientInterface, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("connection pool is closed")
	}
	if m.newClientError != nil {
		return nil, m.newClientError
	}
	return m.client, nil
}

func (m *MockConnectionPool) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *MockConnectionPool) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type PublishedMessage struct {
	Queue     string
	MessageID string
	Body      []byte
}

// MockClient implements ClientInterface and feeds Consume from a channel
type MockClient struct {
	mu         sync.Mutex
	published  []PublishedMessage
	declared   []string
	prefetch   int
	publishErr error
	deliveries chan amqp.Delivery
}

func NewMockClient() *MockClient {
	return &MockClient{deliveries: make(chan amqp.Delivery, 16)}
}

func (c *MockClient) Close() {}

func (c *MockClient) Publish(exchange, routingKey string, mandatory, immediate bool, msg amqp.Publishing) error {
	return c.PublishPersistent(routingKey, msg.MessageId, msg.Body)
}

func (c *MockClient) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.declared = append(c.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (c *MockClient) Qos(prefetchCount int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prefetch = prefetchCount
	return nil
}

func (c *MockClient) PublishPersistent(queue, messageID string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return c.publishErr
	}
	c.published = append(c.published, PublishedMessage{Queue: queue, MessageID: messageID, Body: body})
	return nil
}

func (c *MockClient) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	return c.deliveries, nil
}

func (c *MockClient) Published() []PublishedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]PublishedMessage(nil), c.published...)
}

// ackRecorder implements amqp.Acknowledger
type ackRecorder struct {
	mu     sync.Mutex
	acks   []uint64
	nacks  []uint64
	signal chan struct{}
}

func newAckRecorder() *ackRecorder {
	return &ackRecorder{signal: make(chan struct{}, 16)}
}

func (a *ackRecorder) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	a.acks = append(a.acks, tag)
	a.mu.Unlock()
	a.signal <- struct{}{}
	return nil
}

func (a *ackRecorder) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	a.nacks = append(a.nacks, tag)
	a.mu.Unlock()
	a.signal <- struct{}{}
	return nil
}

func (a *ackRecorder) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *ackRecorder) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.acks), len(a.nacks)
}
