package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sube3494/bilidownloader/internal/common/config"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// ErrDrop tells the consumer to reject a message without requeueing it.
// Wrap decode errors with it so a malformed body is not redelivered forever.
var ErrDrop = errors.New("drop message")

// Handler processes one delivery
type Handler func(body []byte, routingKey string) error

// Publisher is the publishing half of Client
type Publisher interface {
	// PublishJSON publishes a JSON message to the exchange with the given routing key
	PublishJSON(exchange, routingKey string, data any) error
}

// Client defines the messaging client interface
type Client interface {
	Publisher

	// PublishMessage publishes a message to the exchange with the given routing key
	PublishMessage(exchange, routingKey string, body []byte) error

	// DeclareQueue declares a queue with the given name
	DeclareQueue(name string) error

	// BindQueue binds a queue to an exchange with the given routing key
	BindQueue(queueName, exchange, routingKey string) error

	// SetQos limits unacknowledged deliveries per consumer
	SetQos(prefetch int) error

	// Consume consumes messages from the given queue
	Consume(queueName string, handler Handler) error

	// ConsumeWithContext consumes messages from the given queue with context support
	ConsumeWithContext(ctx context.Context, queueName string, handler Handler) error

	// Close closes the connection
	Close() error
}

// RabbitMQClient implements the Client interface using RabbitMQ
type RabbitMQClient struct {
	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	config  *config.RabbitMQConfig
	log     *logrus.Logger
	closing bool
}

// NewRabbitMQClient creates a new RabbitMQ client
func NewRabbitMQClient(cfg *config.RabbitMQConfig, log *logrus.Logger) (*RabbitMQClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("rabbitmq URL is required")
	}

	if cfg.Exchange.Chat == "" || cfg.Exchange.Log == "" {
		return nil, fmt.Errorf("rabbitmq exchange names are required")
	}

	client := &RabbitMQClient{
		config: cfg,
		log:    log,
	}

	if err := client.connect(); err != nil {
		return nil, err
	}

	return client, nil
}

// connect establishes a connection to RabbitMQ
func (c *RabbitMQClient) connect() error {
	conn, err := amqp.Dial(c.config.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open a channel: %w", err)
	}

	for _, exchange := range []string{c.config.Exchange.Chat, c.config.Exchange.Log} {
		err = channel.ExchangeDeclare(
			exchange, // name
			"direct", // type
			true,     // durable
			false,    // auto-deleted
			false,    // internal
			false,    // no-wait
			nil,      // arguments
		)
		if err != nil {
			channel.Close()
			conn.Close()
			return fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
		}
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = channel
	c.mu.Unlock()

	// Set up connection recovery
	go c.handleReconnect(conn)

	return nil
}

// handleReconnect attempts to reconnect to RabbitMQ when the connection is lost
func (c *RabbitMQClient) handleReconnect(conn *amqp.Connection) {
	err, ok := <-conn.NotifyClose(make(chan *amqp.Error, 1))
	if !ok {
		return
	}

	c.mu.RLock()
	closing := c.closing
	c.mu.RUnlock()
	if closing {
		return
	}

	entry := c.log.WithField("component", "messaging")
	entry.WithError(err).Warn("RabbitMQ connection closed, attempting to reconnect")

	for i := 0; i < c.config.ReconnectRetries; i++ {
		time.Sleep(c.config.ReconnectTimeout)

		if err := c.connect(); err == nil {
			entry.Info("Successfully reconnected to RabbitMQ")
			return
		}

		entry.WithFields(logrus.Fields{
			"attempt": i + 1,
			"max":     c.config.ReconnectRetries,
		}).Warn("Failed to reconnect to RabbitMQ")
	}

	entry.Error("Failed to reconnect to RabbitMQ after multiple attempts")
}

func (c *RabbitMQClient) ch() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// PublishMessage publishes a message to the exchange with the given routing key
func (c *RabbitMQClient) PublishMessage(exchange, routingKey string, body []byte) error {
	return c.publish(exchange, routingKey, "application/octet-stream", body)
}

// PublishJSON publishes a JSON message to the exchange with the given routing key
func (c *RabbitMQClient) PublishJSON(exchange, routingKey string, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON message: %w", err)
	}
	return c.publish(exchange, routingKey, "application/json", body)
}

func (c *RabbitMQClient) publish(exchange, routingKey, contentType string, body []byte) error {
	if exchange == "" {
		exchange = c.config.Exchange.Chat
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return c.ch().PublishWithContext(
		ctx,
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  contentType,
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}

// DeclareQueue declares a queue with the given name
func (c *RabbitMQClient) DeclareQueue(name string) error {
	_, err := c.ch().QueueDeclare(
		name,  // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)

	return err
}

// BindQueue binds a queue to an exchange with the given routing key
func (c *RabbitMQClient) BindQueue(queueName, exchange, routingKey string) error {
	if exchange == "" {
		exchange = c.config.Exchange.Chat
	}

	return c.ch().QueueBind(
		queueName,  // queue name
		routingKey, // routing key
		exchange,   // exchange
		false,      // no-wait
		nil,        // arguments
	)
}

// SetQos sets the prefetch count of the channel
func (c *RabbitMQClient) SetQos(prefetch int) error {
	return c.ch().Qos(prefetch, 0, false)
}

func (c *RabbitMQClient) deliveries(queueName string) (<-chan amqp.Delivery, error) {
	// Ensure queue exists
	if err := c.DeclareQueue(queueName); err != nil {
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	msgs, err := c.ch().Consume(
		queueName, // queue
		"",        // consumer
		false,     // auto-ack
		false,     // exclusive
		false,     // no-local
		false,     // no-wait
		nil,       // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register a consumer: %w", err)
	}
	return msgs, nil
}

// Consume consumes messages from the given queue
func (c *RabbitMQClient) Consume(queueName string, handler Handler) error {
	return c.ConsumeWithContext(context.Background(), queueName, handler)
}

// ConsumeWithContext consumes messages from the given queue with context support
func (c *RabbitMQClient) ConsumeWithContext(ctx context.Context, queueName string, handler Handler) error {
	msgs, err := c.deliveries(queueName)
	if err != nil {
		return err
	}

	entry := c.log.WithFields(logrus.Fields{
		"component": "messaging",
		"queue":     queueName,
	})

	go func() {
		for {
			select {
			case <-ctx.Done():
				entry.Debug("Consumer stopped due to context cancellation")
				return
			case msg, ok := <-msgs:
				if !ok {
					entry.Debug("Consumer channel closed")
					return
				}
				dispatch(msg, handler, entry)
			}
		}
	}()

	return nil
}

// dispatch runs handler and settles the delivery.
func dispatch(msg amqp.Delivery, handler Handler, entry *logrus.Entry) {
	err := handler(msg.Body, msg.RoutingKey)
	switch {
	case err == nil:
		if ackErr := msg.Ack(false); ackErr != nil {
			entry.WithError(ackErr).Warn("Failed to ack message")
		}
	case errors.Is(err, ErrDrop):
		entry.WithError(err).Warn("Dropping message")
		_ = msg.Nack(false, false)
	default:
		entry.WithError(err).Error("Error processing message, requeueing")
		_ = msg.Nack(false, true)
	}
}

// Close closes the connection and channel
func (c *RabbitMQClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closing = true

	if c.channel != nil {
		c.channel.Close()
	}

	if c.conn != nil {
		return c.conn.Close()
	}

	return nil
}
