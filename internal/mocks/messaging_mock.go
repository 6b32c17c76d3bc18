package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"perf-agent-server/internal/messaging"
)

// MockNotifier is a mock type for the Notifier type
type MockNotifier struct {
	mock.Mock
}

// Notify provides a mock function with given fields: ctx, payload
func (_m *MockNotifier) Notify(ctx context.Context, payload messaging.PlanNotificationPayload) error {
	ret := _m.Called(ctx, payload)
	return ret.Error(0)
}

// NewMockNotifier creates a new instance of MockNotifier.
func NewMockNotifier(t interface {
	mock.TestingT
	Helper()
}) *MockNotifier {
	m := &MockNotifier{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

// MockTaskPublisher is a mock type for the TaskPublisher type
type MockTaskPublisher struct {
	mock.Mock
}

// PublishPlanTask provides a mock function with given fields: ctx, payload
func (_m *MockTaskPublisher) PublishPlanTask(ctx context.Context, payload messaging.PlanGenerationTaskPayload) error {
	ret := _m.Called(ctx, payload)
	return ret.Error(0)
}

// NewMockTaskPublisher creates a new instance of MockTaskPublisher.
func NewMockTaskPublisher(t interface {
	mock.TestingT
	Helper()
}) *MockTaskPublisher {
	m := &MockTaskPublisher{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var (
	_ messaging.Notifier      = (*MockNotifier)(nil)
	_ messaging.TaskPublisher = (*MockTaskPublisher)(nil)
)
