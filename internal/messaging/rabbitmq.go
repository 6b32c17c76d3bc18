package messaging

import (
	"context"
	"fmt"
	"net/url"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	dlqRoutingKey = "dlq"
	queueModeLazy = "lazy"
)

// RetryPolicy controls how long Connect keeps dialing.
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
}

// DefaultRetryPolicy waits for a broker started alongside the service.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 50, Delay: 5 * time.Second}

// Connect dials RabbitMQ, retrying per policy. Unexpected connection loss is logged.
func Connect(ctx context.Context, rawURL string, policy RetryPolicy, logger *zap.Logger) (*amqp.Connection, error) {
	logger.Info("Attempting to connect to RabbitMQ",
		zap.String("url", maskURL(rawURL)),
		zap.Int("max_retries", policy.MaxRetries),
		zap.Duration("retry_delay", policy.Delay),
	)

	var err error
	for attempt := 1; attempt <= policy.MaxRetries; attempt++ {
		var conn *amqp.Connection
		conn, err = amqp.Dial(rawURL)
		if err == nil {
			logger.Info("Successfully connected to RabbitMQ", zap.Int("attempt", attempt))
			go watchClose(conn, logger)
			return conn, nil
		}
		logger.Warn("RabbitMQ connection failed, retrying...",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", policy.MaxRetries),
			zap.Error(err),
		)
		if attempt == policy.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(policy.Delay):
		}
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", policy.MaxRetries, err)
}

func watchClose(conn *amqp.Connection, logger *zap.Logger) {
	notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))
	if err := <-notifyClose; err != nil {
		logger.Error("RabbitMQ connection closed unexpectedly", zap.Error(err))
		return
	}
	logger.Info("RabbitMQ connection closed")
}

// DeclareTaskQueue declares the task queue with its dead-letter exchange and queue.
// Publishers and the consumer both call it, so the arguments must stay identical.
func DeclareTaskQueue(ch *amqp.Channel, queueName string) error {
	dlxName := queueName + "_dlx"
	dlqName := queueName + "_dlq"

	if err := ch.ExchangeDeclare(dlxName, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead-letter exchange '%s': %w", dlxName, err)
	}
	if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead-letter queue '%s': %w", dlqName, err)
	}
	if err := ch.QueueBind(dlqName, dlqRoutingKey, dlxName, false, nil); err != nil {
		return fmt.Errorf("failed to bind dead-letter queue '%s': %w", dlqName, err)
	}

	args := amqp.Table{
		"x-queue-mode":              queueModeLazy,
		"x-dead-letter-exchange":    dlxName,
		"x-dead-letter-routing-key": dlqRoutingKey,
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare task queue '%s': %w", queueName, err)
	}
	return nil
}

// DeclareNotificationQueue declares the durable queue notifications are published to.
func DeclareNotificationQueue(ch *amqp.Channel, queueName string) error {
	args := amqp.Table{"x-queue-mode": queueModeLazy}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare notification queue '%s': %w", queueName, err)
	}
	return nil
}

func maskURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "[invalid url]"
	}
	return parsed.Redacted()
}
