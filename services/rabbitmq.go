package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"airwatch/config"
	"airwatch/models"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	amqpTopicExchange  = "amq.topic"
	amqpReconnectDelay = 5 * time.Second
)

// RabbitMQService publishes telemetry to a topic exchange and consumes
// commands from an exclusive queue bound to the command routing key. With the
// default amq.topic exchange, MQTT-plugin clients see the same topics.
type RabbitMQService struct {
	config *config.Config
	logger *zap.Logger
	inbox  *inbox

	handler MessageHandler

	mu        sync.Mutex
	conn      *amqp.Connection
	channel   *amqp.Channel
	isClosing bool
}

func NewRabbitMQService(cfg *config.Config, logger *zap.Logger) *RabbitMQService {
	return &RabbitMQService{
		config: cfg,
		logger: logger,
		inbox:  newInbox(),
	}
}

// Start connects once. When the broker is unavailable it keeps retrying in
// the background and reports no error.
func (r *RabbitMQService) Start() error {
	if err := r.connect(); err != nil {
		r.logger.Warn("RabbitMQ not reachable yet, retrying in background", zap.Error(err))
		go r.reconnectLoop()
	}
	return nil
}

// connect establishes connection to RabbitMQ and binds the command queue
func (r *RabbitMQService) connect() error {
	r.logger.Info("Connecting to RabbitMQ", zap.String("exchange", r.config.RabbitMQExchange))

	conn, err := amqp.Dial(r.config.RabbitMQURL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if r.config.RabbitMQExchange != amqpTopicExchange {
		err = channel.ExchangeDeclare(
			r.config.RabbitMQExchange, // name
			"topic",                   // type
			true,                      // durable
			false,                     // auto-deleted
			false,                     // internal
			false,                     // no-wait
			nil,                       // arguments
		)
		if err != nil {
			_ = conn.Close()
			return fmt.Errorf("failed to declare exchange: %w", err)
		}
	}

	// Server-named queue that disappears with the connection.
	queue, err := channel.QueueDeclare(
		"",    // name
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to declare command queue: %w", err)
	}

	err = channel.QueueBind(
		queue.Name,                // queue name
		r.config.TopicCommands,    // routing key
		r.config.RabbitMQExchange, // exchange
		false,                     // no-wait
		nil,                       // arguments
	)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to bind command queue: %w", err)
	}

	msgs, err := channel.Consume(
		queue.Name,        // queue
		r.config.DeviceID, // consumer tag
		true,              // auto-ack
		true,              // exclusive
		false,             // no-local
		false,             // no-wait
		nil,               // args
	)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	r.mu.Lock()
	r.conn = conn
	r.channel = channel
	r.mu.Unlock()

	r.logger.Info("Connected to RabbitMQ",
		zap.String("exchange", r.config.RabbitMQExchange),
		zap.String("command_queue", queue.Name),
		zap.String("routing_key", r.config.TopicCommands))

	go r.consume(msgs)
	go r.handleReconnect(conn)

	if err := r.Publish(r.config.TopicStatus, statusPayload(r.config.DeviceID, models.StatusOnline)); err != nil {
		r.logger.Warn("Failed to publish online status", zap.Error(err))
	}
	return nil
}

// handleReconnect waits for conn to close and reconnects unless closing.
func (r *RabbitMQService) handleReconnect(conn *amqp.Connection) {
	closeErr, ok := <-conn.NotifyClose(make(chan *amqp.Error, 1))

	r.mu.Lock()
	closing := r.isClosing
	if r.conn == conn {
		r.conn = nil
		r.channel = nil
	}
	r.mu.Unlock()

	if closing {
		r.logger.Info("RabbitMQ connection closed gracefully")
		return
	}
	if ok {
		r.logger.Error("RabbitMQ connection lost", zap.Error(closeErr))
	} else {
		r.logger.Error("RabbitMQ connection lost")
	}
	r.reconnectLoop()
}

func (r *RabbitMQService) reconnectLoop() {
	for {
		time.Sleep(amqpReconnectDelay)

		r.mu.Lock()
		closing := r.isClosing
		r.mu.Unlock()
		if closing {
			return
		}

		r.logger.Info("Attempting to reconnect to RabbitMQ...")
		if err := r.connect(); err != nil {
			r.logger.Error("Failed to reconnect", zap.Error(err))
			continue
		}
		r.logger.Info("Successfully reconnected to RabbitMQ")
		return
	}
}

// consume forwards deliveries to the inbox until the channel closes.
func (r *RabbitMQService) consume(msgs <-chan amqp.Delivery) {
	for msg := range msgs {
		if !r.inbox.push(msg.RoutingKey, msg.Body) {
			r.logger.Warn("Command queue full, dropping message",
				zap.String("routing_key", msg.RoutingKey),
				zap.String("message_id", msg.MessageId))
		}
	}
	r.logger.Debug("Command consumer stopped")
}

func (r *RabbitMQService) IsConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil && !r.conn.IsClosed()
}

func (r *RabbitMQService) Publish(topic string, payload []byte) error {
	r.mu.Lock()
	channel := r.channel
	r.mu.Unlock()
	if channel == nil {
		return ErrPublisherOffline
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishWait(r.config))
	defer cancel()

	msg := r.buildPublishing(payload)
	err := channel.PublishWithContext(ctx,
		r.config.RabbitMQExchange, // exchange
		topic,                     // routing key
		false,                     // mandatory
		false,                     // immediate
		msg,
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	r.logger.Debug("Published to RabbitMQ",
		zap.String("routing_key", topic),
		zap.String("message_id", msg.MessageId))
	return nil
}

func (r *RabbitMQService) buildPublishing(payload []byte) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		Body:         payload,
		DeliveryMode: amqp.Transient,
		Timestamp:    time.Now(),
		MessageId:    uuid.NewString(),
		AppId:        r.config.DeviceID,
	}
}

func (r *RabbitMQService) Service() {
	r.inbox.drain(r.handler)
}

func (r *RabbitMQService) SetMessageHandler(handler MessageHandler) {
	r.handler = handler
}

// Close gracefully closes RabbitMQ connection
func (r *RabbitMQService) Close() error {
	if err := r.Publish(r.config.TopicStatus, statusPayload(r.config.DeviceID, models.StatusOffline)); err != nil {
		r.logger.Debug("Offline status not published", zap.Error(err))
	}

	r.mu.Lock()
	r.isClosing = true
	conn, channel := r.conn, r.channel
	r.conn, r.channel = nil, nil
	r.mu.Unlock()

	r.logger.Info("Closing RabbitMQ connection")

	if channel != nil {
		if err := channel.Close(); err != nil {
			r.logger.Error("Error closing channel", zap.Error(err))
		}
	}

	if conn != nil {
		if err := conn.Close(); err != nil {
			r.logger.Error("Error closing connection", zap.Error(err))
			return err
		}
	}

	r.logger.Info("RabbitMQ connection closed")
	return nil
}
