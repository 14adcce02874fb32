package rabbitmq

import (
	"sync"
	"time"

	"github.com/streadway/amqp"

	"storefront-fulfillment/internal/common/errors"
	"storefront-fulfillment/internal/common/logging"
)

type ConnectionPool struct {
	url         string
	maxSize     int
	connections chan *amqp.Connection
	mu          sync.RWMutex
	closed      bool
	logger      logging.Logger
}

type Client struct {
	pool *ConnectionPool
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewConnectionPool(url string, maxSize int, logger logging.Logger) (*ConnectionPool, error) {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	pool := &ConnectionPool{
		url:         url,
		maxSize:     maxSize,
		connections: make(chan *amqp.Connection, maxSize),
		logger:      logger.WithFields(logging.Field{Key: "component", Value: "rabbitmq_pool"}),
	}

	for i := 0; i < maxSize; i++ {
		conn, err := amqp.Dial(url)
		if err != nil {
			pool.Close()
			return nil, errors.ConnectionError("failed to create initial RabbitMQ connection", err)
		}
		pool.connections <- conn
	}

	return pool, nil
}

func (p *ConnectionPool) GetConnection() (*amqp.Connection, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, errors.ConnectionError("connection pool is closed", nil)
	}
	p.mu.RUnlock()

	select {
	case conn := <-p.connections:
		if conn.IsClosed() {
			newConn, err := amqp.Dial(p.url)
			if err != nil {
				return nil, errors.ConnectionError("failed to create new RabbitMQ connection", err)
			}
			return newConn, nil
		}
		return conn, nil
	case <-time.After(5 * time.Second):
		return nil, errors.TimeoutError("waiting for RabbitMQ connection")
	}
}

func (p *ConnectionPool) ReturnConnection(conn *amqp.Connection) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		conn.Close()
		return
	}
	p.mu.RUnlock()

	if !conn.IsClosed() {
		select {
		case p.connections <- conn:
		default:
			conn.Close()
		}
	}
}

func (p *ConnectionPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	close(p.connections)
	for conn := range p.connections {
		conn.Close()
	}
}

func (p *ConnectionPool) NewClient() (ClientInterface, error) {
	conn, err := p.GetConnection()
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		p.ReturnConnection(conn)
		return nil, errors.ConnectionError("failed to open channel", err)
	}

	return &Client{
		pool: p,
		conn: conn,
		ch:   ch,
	}, nil
}

func (c *Client) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.pool.ReturnConnection(c.conn)
	}
}

func (c *Client) Publish(exchange, routingKey string, mandatory, immediate bool, msg amqp.Publishing) error {
	return c.ch.Publish(exchange, routingKey, mandatory, immediate, msg)
}

func (c *Client) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	return c.ch.QueueDeclare(name, durable, autoDelete, exclusive, noWait, args)
}

// Qos limits unacknowledged deliveries per consumer
func (c *Client) Qos(prefetchCount int) error {
	return c.ch.Qos(prefetchCount, 0, false)
}

// Consume starts consuming messages from a queue
func (c *Client) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	return c.ch.Consume(queue, consumer, autoAck, exclusive, noLocal, noWait, args)
}

// PublishPersistent declares queue as durable and publishes body to it with
// persistent delivery so jobs survive a broker restart.
func (c *Client) PublishPersistent(queue, messageID string, body []byte) error {
	if _, err := c.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return errors.InternalError("failed to declare queue "+queue, err)
	}

	return c.Publish(
		"",
		queue,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    messageID,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}
