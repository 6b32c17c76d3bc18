//go:build integration

package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"perf-agent-server/internal/config"
	"perf-agent-server/internal/database"
	"perf-agent-server/internal/model"
	"perf-agent-server/internal/repository"
	"perf-agent-server/shared/utils"
)

type PlanRepositorySuite struct {
	suite.Suite
	ctx         context.Context
	pgContainer *postgres.PostgresContainer
	pool        *pgxpool.Pool
	repo        repository.PlanRepository
	logger      *zap.Logger
}

func (s *PlanRepositorySuite) SetupSuite() {
	s.ctx = context.Background()
	s.logger = zap.NewNop()

	var err error
	s.pgContainer, err = postgres.Run(s.ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("perf_agent_test"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(2*time.Minute),
		),
	)
	s.Require().NoError(err, "Failed to start postgres container")

	dsn, err := s.pgContainer.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	s.pool, err = database.Connect(s.ctx, dsn, config.DBConfig{MaxConns: 4, IdleTimeout: time.Minute},
		database.RetryPolicy{MaxRetries: 5, Delay: time.Second}, s.logger)
	s.Require().NoError(err)
	s.Require().NoError(database.Migrate(s.pool, s.logger))
	// A second run finds nothing to apply.
	s.Require().NoError(database.Migrate(s.pool, s.logger))

	s.repo = repository.NewPostgresPlanRepository(s.pool, s.logger)
}

func (s *PlanRepositorySuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.pgContainer != nil {
		s.Require().NoError(s.pgContainer.Terminate(s.ctx))
	}
}

func (s *PlanRepositorySuite) SetupTest() {
	_, err := s.pool.Exec(s.ctx, "TRUNCATE jmeter_plans")
	s.Require().NoError(err)
}

func (s *PlanRepositorySuite) newPlan(createdAt time.Time) *model.PlanRecord {
	return &model.PlanRecord{
		ID:        uuid.NewString(),
		Prompt:    "Create a test plan for a login endpoint",
		Status:    model.PlanStatusPending,
		Model:     "gemini-2.5-pro",
		Source:    model.PlanSourceWorker,
		CreatedAt: createdAt.UTC().Truncate(time.Microsecond),
	}
}

func (s *PlanRepositorySuite) TestSaveAndComplete() {
	plan := s.newPlan(time.Now())
	s.Require().NoError(s.repo.Save(s.ctx, plan))

	stored, err := s.repo.GetByID(s.ctx, plan.ID)
	s.Require().NoError(err)
	s.Equal(model.PlanStatusPending, stored.Status)
	s.Nil(stored.CompletedAt)

	plan.Complete(true, `<?xml version="1.0"?><jmeterTestPlan/>`, 1500*time.Millisecond, time.Now().UTC())
	s.Require().NoError(s.repo.Save(s.ctx, plan))

	stored, err = s.repo.GetByID(s.ctx, plan.ID)
	s.Require().NoError(err)
	s.Equal(model.PlanStatusCompleted, stored.Status)
	s.Equal(`<?xml version="1.0"?><jmeterTestPlan/>`, stored.JMXContent)
	s.EqualValues(1500, stored.ProcessingTimeMs)
	s.Require().NotNil(stored.CompletedAt)
	s.True(stored.CreatedAt.Equal(plan.CreatedAt))
	s.Equal(plan.Prompt, stored.Prompt)
	s.Equal(model.PlanSourceWorker, stored.Source)
}

func (s *PlanRepositorySuite) TestGetByID_NotFound() {
	_, err := s.repo.GetByID(s.ctx, uuid.NewString())
	s.ErrorIs(err, repository.ErrNotFound)
}

func (s *PlanRepositorySuite) TestListRecent() {
	base := time.Now().Add(-time.Hour)
	var ids []string
	for i := 0; i < 5; i++ {
		plan := s.newPlan(base.Add(time.Duration(i) * time.Minute))
		plan.Complete(i%2 == 0, "x", time.Second, time.Now().UTC())
		s.Require().NoError(s.repo.Save(s.ctx, plan))
		ids = append(ids, plan.ID)
	}

	page, cursor, err := s.repo.ListRecent(s.ctx, 3, "")
	s.Require().NoError(err)
	s.Require().Len(page, 3)
	s.Equal(ids[4], page[0].ID)
	s.Equal(ids[3], page[1].ID)
	s.Equal(ids[2], page[2].ID)
	s.Equal(model.PlanStatusFailed, page[1].Status)
	s.Require().NotEmpty(cursor)

	page, cursor, err = s.repo.ListRecent(s.ctx, 3, cursor)
	s.Require().NoError(err)
	s.Require().Len(page, 2)
	s.Equal(ids[1], page[0].ID)
	s.Equal(ids[0], page[1].ID)
	s.Empty(cursor)
}

func (s *PlanRepositorySuite) TestListRecent_ExactPage() {
	for i := 0; i < 2; i++ {
		s.Require().NoError(s.repo.Save(s.ctx, s.newPlan(time.Now().Add(time.Duration(i)*time.Second))))
	}

	page, cursor, err := s.repo.ListRecent(s.ctx, 2, "")
	s.Require().NoError(err)
	s.Len(page, 2)
	s.Empty(cursor)
}

func (s *PlanRepositorySuite) TestListRecent_InvalidCursor() {
	_, _, err := s.repo.ListRecent(s.ctx, 3, "%%%")
	s.ErrorIs(err, utils.ErrInvalidCursor)
}

func TestPlanRepositorySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PlanRepositorySuite))
}
