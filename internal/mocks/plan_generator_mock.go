package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"perf-agent-server/internal/service"
)

// MockPlanGenerator is a mock type for the PlanGenerator type
type MockPlanGenerator struct {
	mock.Mock
}

// Generate provides a mock function with given fields: ctx, prompt
func (_m *MockPlanGenerator) Generate(ctx context.Context, prompt string) service.PlanResult {
	ret := _m.Called(ctx, prompt)

	if rf, ok := ret.Get(0).(func(context.Context, string) service.PlanResult); ok {
		return rf(ctx, prompt)
	}
	return ret.Get(0).(service.PlanResult)
}

// GenerateJMeterTestPlan provides a mock function with given fields: ctx, prompt
func (_m *MockPlanGenerator) GenerateJMeterTestPlan(ctx context.Context, prompt string) string {
	ret := _m.Called(ctx, prompt)
	return ret.String(0)
}

// Model provides a mock function with given fields:
func (_m *MockPlanGenerator) Model() string {
	ret := _m.Called()
	return ret.String(0)
}

// NewMockPlanGenerator creates a new instance of MockPlanGenerator.
func NewMockPlanGenerator(t interface {
	mock.TestingT
	Helper()
}) *MockPlanGenerator {
	m := &MockPlanGenerator{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ service.PlanGenerator = (*MockPlanGenerator)(nil)
