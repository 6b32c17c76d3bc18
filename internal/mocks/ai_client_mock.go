package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"perf-agent-server/internal/service"
)

// MockAIClient is a mock type for the AIClient type
type MockAIClient struct {
	mock.Mock
}

// GenerateJSON provides a mock function with given fields: ctx, req
func (_m *MockAIClient) GenerateJSON(ctx context.Context, req service.GenerationRequest) (string, service.UsageInfo, error) {
	ret := _m.Called(ctx, req)

	var r0 string
	if rf, ok := ret.Get(0).(func(context.Context, service.GenerationRequest) string); ok {
		r0 = rf(ctx, req)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(string)
	}

	var r1 service.UsageInfo
	if rf, ok := ret.Get(1).(func(context.Context, service.GenerationRequest) service.UsageInfo); ok {
		r1 = rf(ctx, req)
	} else if ret.Get(1) != nil {
		r1 = ret.Get(1).(service.UsageInfo)
	}

	var r2 error
	if rf, ok := ret.Get(2).(func(context.Context, service.GenerationRequest) error); ok {
		r2 = rf(ctx, req)
	} else {
		r2 = ret.Error(2)
	}

	return r0, r1, r2
}

// Model provides a mock function with given fields:
func (_m *MockAIClient) Model() string {
	ret := _m.Called()
	return ret.String(0)
}

// NewMockAIClient creates a new instance of MockAIClient.
// The first argument is typically a *testing.T value.
func NewMockAIClient(t interface {
	mock.TestingT
	Helper()
}) *MockAIClient {
	m := &MockAIClient{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ service.AIClient = (*MockAIClient)(nil)
