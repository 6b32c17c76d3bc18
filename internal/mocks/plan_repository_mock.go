package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"perf-agent-server/internal/model"
	"perf-agent-server/internal/repository"
)

// MockPlanRepository is a mock type for the PlanRepository type
type MockPlanRepository struct {
	mock.Mock
}

// Save provides a mock function with given fields: ctx, plan
func (_m *MockPlanRepository) Save(ctx context.Context, plan *model.PlanRecord) error {
	ret := _m.Called(ctx, plan)

	if rf, ok := ret.Get(0).(func(context.Context, *model.PlanRecord) error); ok {
		return rf(ctx, plan)
	}
	return ret.Error(0)
}

// GetByID provides a mock function with given fields: ctx, id
func (_m *MockPlanRepository) GetByID(ctx context.Context, id string) (*model.PlanRecord, error) {
	ret := _m.Called(ctx, id)

	var r0 *model.PlanRecord
	if rf, ok := ret.Get(0).(func(context.Context, string) *model.PlanRecord); ok {
		r0 = rf(ctx, id)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).(*model.PlanRecord)
	}

	return r0, ret.Error(1)
}

// ListRecent provides a mock function with given fields: ctx, limit, cursor
func (_m *MockPlanRepository) ListRecent(ctx context.Context, limit int, cursor string) ([]model.PlanSummary, string, error) {
	ret := _m.Called(ctx, limit, cursor)

	var r0 []model.PlanSummary
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]model.PlanSummary)
	}

	return r0, ret.String(1), ret.Error(2)
}

// NewMockPlanRepository creates a new instance of MockPlanRepository.
func NewMockPlanRepository(t interface {
	mock.TestingT
	Helper()
}) *MockPlanRepository {
	m := &MockPlanRepository{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ repository.PlanRepository = (*MockPlanRepository)(nil)
