package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	consumerTag     = "plan-task-consumer"
	stopGracePeriod = 30 * time.Second
)

// TaskHandler processes one decoded task. A returned error dead-letters the message.
type TaskHandler interface {
	Handle(ctx context.Context, payload PlanGenerationTaskPayload) error
}

// DecodeFailureFunc is called for messages that are not valid task payloads.
type DecodeFailureFunc func()

// PlanTaskConsumer reads plan generation tasks from a queue, one at a time.
type PlanTaskConsumer struct {
	channel         *amqp.Channel
	queueName       string
	handler         TaskHandler
	onDecodeFailure DecodeFailureFunc
	logger          *zap.Logger
	done            chan struct{}
}

func NewPlanTaskConsumer(ch *amqp.Channel, queueName string, handler TaskHandler, onDecodeFailure DecodeFailureFunc, logger *zap.Logger) *PlanTaskConsumer {
	return &PlanTaskConsumer{
		channel:         ch,
		queueName:       queueName,
		handler:         handler,
		onDecodeFailure: onDecodeFailure,
		logger:          logger.Named("PlanTaskConsumer"),
		done:            make(chan struct{}),
	}
}

// Start sets prefetch to 1 and begins consuming in a goroutine.
func (c *PlanTaskConsumer) Start(ctx context.Context) error {
	if err := c.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := c.channel.Consume(c.queueName, consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer on '%s': %w", c.queueName, err)
	}
	c.logger.Info("Consumer started, waiting for tasks", zap.String("queue", c.queueName))

	go func() {
		defer close(c.done)

		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Info("Delivery channel closed, consumer goroutine exiting")
					return
				}
				c.handleDelivery(ctx, msg)
			case <-ctx.Done():
				c.logger.Info("Context cancelled, consumer goroutine exiting")
				return
			}
		}
	}()
	return nil
}

// handleDelivery settles exactly one message. A panicking handler dead-letters
// the message and the consumer keeps reading.
func (c *PlanTaskConsumer) handleDelivery(ctx context.Context, msg amqp.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Panic recovered while handling task, rejecting (nack, no requeue)",
				zap.Any("panic", r),
				zap.String("message_id", msg.MessageId),
				zap.Stack("stack"),
			)
			c.nack(msg)
		}
	}()

	payload, err := decodeTask(msg.Body)
	if err != nil {
		c.logger.Error("Undecodable task message, rejecting (nack, no requeue)",
			zap.Error(err),
			zap.String("message_id", msg.MessageId),
		)
		if c.onDecodeFailure != nil {
			c.onDecodeFailure()
		}
		c.nack(msg)
		return
	}

	log := c.logger.With(zap.String("task_id", payload.TaskID))
	if err := c.handler.Handle(ctx, payload); err != nil {
		log.Error("Task handling failed, rejecting (nack, no requeue)", zap.Error(err))
		c.nack(msg)
		return
	}

	if err := msg.Ack(false); err != nil {
		log.Error("Failed to ack message", zap.Error(err))
	}
}

// decodeTask accepts only payloads whose taskId is a UUID, the key of the plan record.
func decodeTask(body []byte) (PlanGenerationTaskPayload, error) {
	var payload PlanGenerationTaskPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return payload, err
	}
	if payload.TaskID == "" {
		return payload, errors.New("taskId is empty")
	}
	if _, err := uuid.Parse(payload.TaskID); err != nil {
		return payload, fmt.Errorf("taskId %q is not a UUID: %w", payload.TaskID, err)
	}
	return payload, nil
}

func (c *PlanTaskConsumer) nack(msg amqp.Delivery) {
	if err := msg.Nack(false, false); err != nil {
		c.logger.Error("Failed to nack message", zap.Error(err))
	}
}

// Stop cancels the subscription and waits for the in-flight task to finish.
func (c *PlanTaskConsumer) Stop() {
	c.logger.Info("Stopping consumer...")
	if err := c.channel.Cancel(consumerTag, false); err != nil {
		c.logger.Warn("Error cancelling consumer", zap.Error(err))
	}

	select {
	case <-c.done:
		c.logger.Info("Consumer stopped")
	case <-time.After(stopGracePeriod):
		c.logger.Warn("Timeout waiting for consumer goroutine to stop")
	}
}
