package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const appID = "perf-agent-server"

// Channel is the part of *amqp.Channel used for publishing.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// TaskPublisher enqueues plan generation tasks.
type TaskPublisher interface {
	PublishPlanTask(ctx context.Context, payload PlanGenerationTaskPayload) error
}

// Notifier reports finished tasks.
type Notifier interface {
	Notify(ctx context.Context, payload PlanNotificationPayload) error
}

type rabbitMQPublisher struct {
	channel   Channel
	queueName string
	logger    *zap.Logger
}

// NewTaskPublisher publishes to queueName on the default exchange. The queue is
// expected to exist (see DeclareTaskQueue).
func NewTaskPublisher(ch Channel, queueName string, logger *zap.Logger) TaskPublisher {
	return &rabbitMQPublisher{channel: ch, queueName: queueName, logger: logger.Named("TaskPublisher")}
}

// NewNotifier publishes to queueName on the default exchange.
func NewNotifier(ch Channel, queueName string, logger *zap.Logger) Notifier {
	return &rabbitMQPublisher{channel: ch, queueName: queueName, logger: logger.Named("Notifier")}
}

func (p *rabbitMQPublisher) PublishPlanTask(ctx context.Context, payload PlanGenerationTaskPayload) error {
	return p.publish(ctx, payload.TaskID, payload.TaskID, payload)
}

func (p *rabbitMQPublisher) Notify(ctx context.Context, payload PlanNotificationPayload) error {
	return p.publish(ctx, payload.TaskID, payload.TaskID+"-notif", payload)
}

func (p *rabbitMQPublisher) publish(ctx context.Context, taskID, messageID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message for task %s: %w", taskID, err)
	}

	err = p.channel.PublishWithContext(ctx,
		"",
		p.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
			AppId:        appID,
			MessageId:    messageID,
		},
	)
	if err != nil {
		p.logger.Error("Failed to publish message", zap.String("task_id", taskID), zap.String("queue", p.queueName), zap.Error(err))
		return fmt.Errorf("failed to publish message for task %s: %w", taskID, err)
	}

	p.logger.Info("Message published", zap.String("task_id", taskID), zap.String("queue", p.queueName))
	return nil
}
