package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeAcknowledger struct {
	acked   int
	nacked  int
	requeue bool
}

func (f *fakeAcknowledger) Ack(uint64, bool) error { f.acked++; return nil }

func (f *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	f.nacked++
	f.requeue = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(uint64, bool) error { return nil }

type handlerFunc func(ctx context.Context, payload PlanGenerationTaskPayload) error

func (f handlerFunc) Handle(ctx context.Context, payload PlanGenerationTaskPayload) error {
	return f(ctx, payload)
}

func newDelivery(body string) (amqp.Delivery, *fakeAcknowledger) {
	ack := &fakeAcknowledger{}
	return amqp.Delivery{Acknowledger: ack, Body: []byte(body), DeliveryTag: 1}, ack
}

const testTaskID = "3f0c9a4e-6c1b-4d7a-9e58-2b1f0d6a7c11"

func TestPlanTaskConsumer_HandleDelivery(t *testing.T) {
	t.Run("handled task is acked", func(t *testing.T) {
		var got PlanGenerationTaskPayload
		consumer := NewPlanTaskConsumer(nil, "q", handlerFunc(func(_ context.Context, p PlanGenerationTaskPayload) error {
			got = p
			return nil
		}), nil, zap.NewNop())
		msg, ack := newDelivery(`{"taskId":"` + testTaskID + `","prompt":"load test /login"}`)

		consumer.handleDelivery(context.Background(), msg)

		assert.Equal(t, 1, ack.acked)
		assert.Equal(t, 0, ack.nacked)
		assert.Equal(t, testTaskID, got.TaskID)
		assert.Equal(t, "load test /login", got.Prompt)
	})

	t.Run("handler error is dead-lettered", func(t *testing.T) {
		consumer := NewPlanTaskConsumer(nil, "q", handlerFunc(func(context.Context, PlanGenerationTaskPayload) error {
			return errors.New("db down")
		}), nil, zap.NewNop())
		msg, ack := newDelivery(`{"taskId":"` + testTaskID + `","prompt":"x"}`)

		consumer.handleDelivery(context.Background(), msg)

		assert.Equal(t, 0, ack.acked)
		assert.Equal(t, 1, ack.nacked)
		assert.False(t, ack.requeue)
	})

	for name, body := range map[string]string{
		"invalid json":     `{"taskId":`,
		"missing task id":  `{"prompt":"x"}`,
		"non-uuid task id": `{"taskId":"task-1","prompt":"x"}`,
	} {
		t.Run(name, func(t *testing.T) {
			called := false
			decodeFailures := 0
			consumer := NewPlanTaskConsumer(nil, "q", handlerFunc(func(context.Context, PlanGenerationTaskPayload) error {
				called = true
				return nil
			}), func() { decodeFailures++ }, zap.NewNop())
			msg, ack := newDelivery(body)

			consumer.handleDelivery(context.Background(), msg)

			assert.False(t, called)
			assert.Equal(t, 1, decodeFailures)
			assert.Equal(t, 1, ack.nacked)
			assert.False(t, ack.requeue)
		})
	}
}

func TestPlanTaskConsumer_HandleDelivery_RecoversFromPanic(t *testing.T) {
	calls := 0
	consumer := NewPlanTaskConsumer(nil, "q", handlerFunc(func(_ context.Context, p PlanGenerationTaskPayload) error {
		calls++
		if p.Prompt == "explode" {
			panic("nil plan record")
		}
		return nil
	}), nil, zap.NewNop())

	first, firstAck := newDelivery(`{"taskId":"` + uuid.NewString() + `","prompt":"explode"}`)
	assert.NotPanics(t, func() {
		consumer.handleDelivery(context.Background(), first)
	})
	assert.Equal(t, 0, firstAck.acked)
	assert.Equal(t, 1, firstAck.nacked)
	assert.False(t, firstAck.requeue)

	second, secondAck := newDelivery(`{"taskId":"` + uuid.NewString() + `","prompt":"fine"}`)
	consumer.handleDelivery(context.Background(), second)
	assert.Equal(t, 1, secondAck.acked)
	assert.Equal(t, 2, calls)
}

func TestDecodeTask(t *testing.T) {
	payload, err := decodeTask([]byte(`{"taskId":"` + testTaskID + `","prompt":"p"}`))
	assert.NoError(t, err)
	assert.Equal(t, testTaskID, payload.TaskID)

	_, err = decodeTask([]byte(`{"taskId":"not-a-uuid"}`))
	assert.ErrorContains(t, err, "not a UUID")
}
