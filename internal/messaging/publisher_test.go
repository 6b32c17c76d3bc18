package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	published []published
	err       error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func TestTaskPublisher_PublishPlanTask(t *testing.T) {
	ch := &fakeChannel{}
	publisher := NewTaskPublisher(ch, "jmeter_plan_tasks", zap.NewNop())
	payload := PlanGenerationTaskPayload{
		TaskID:      "0b7e4b4e-1f44-4a8e-8d3c-0b6c1c2d9f10",
		Prompt:      "Create a test plan for a login endpoint",
		RequestedAt: time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC),
	}

	require.NoError(t, publisher.PublishPlanTask(context.Background(), payload))

	require.Len(t, ch.published, 1)
	got := ch.published[0]
	assert.Equal(t, "", got.exchange)
	assert.Equal(t, "jmeter_plan_tasks", got.key)
	assert.Equal(t, "application/json", got.msg.ContentType)
	assert.Equal(t, amqp.Persistent, got.msg.DeliveryMode)
	assert.Equal(t, payload.TaskID, got.msg.MessageId)

	var decoded PlanGenerationTaskPayload
	require.NoError(t, json.Unmarshal(got.msg.Body, &decoded))
	assert.Equal(t, payload, decoded)
}

func TestNotifier_Notify(t *testing.T) {
	ch := &fakeChannel{}
	notifier := NewNotifier(ch, "jmeter_plan_notifications", zap.NewNop())

	err := notifier.Notify(context.Background(), PlanNotificationPayload{
		TaskID:       "task-1",
		Status:       NotificationStatusError,
		ErrorDetails: "Error: Failed to generate plan. timeout",
	})
	require.NoError(t, err)

	require.Len(t, ch.published, 1)
	assert.Equal(t, "jmeter_plan_notifications", ch.published[0].key)
	assert.Equal(t, "task-1-notif", ch.published[0].msg.MessageId)
	assert.JSONEq(t,
		`{"task_id":"task-1","status":"error","error_details":"Error: Failed to generate plan. timeout","completed_at":"0001-01-01T00:00:00Z"}`,
		string(ch.published[0].msg.Body))
}

func TestPublisher_Error(t *testing.T) {
	ch := &fakeChannel{err: amqp.ErrClosed}
	publisher := NewTaskPublisher(ch, "jmeter_plan_tasks", zap.NewNop())

	err := publisher.PublishPlanTask(context.Background(), PlanGenerationTaskPayload{TaskID: "t"})

	require.Error(t, err)
	assert.True(t, errors.Is(err, amqp.ErrClosed))
}
