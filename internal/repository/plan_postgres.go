package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"perf-agent-server/internal/model"
	"perf-agent-server/shared/utils"
)

const (
	upsertPlanQuery = `
        INSERT INTO jmeter_plans
        (id, prompt, status, jmx_content, error, model, source, processing_time_ms, created_at, completed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (id) DO UPDATE SET
            status = EXCLUDED.status,
            jmx_content = EXCLUDED.jmx_content,
            error = EXCLUDED.error,
            model = EXCLUDED.model,
            processing_time_ms = EXCLUDED.processing_time_ms,
            completed_at = EXCLUDED.completed_at
    `
	getPlanByIDQuery = `
        SELECT id, prompt, status, jmx_content, error, model, source, processing_time_ms, created_at, completed_at
        FROM jmeter_plans WHERE id = $1
    `
	listRecentPlansQuery = `
        SELECT id, prompt, status, error, model, source, processing_time_ms, created_at, completed_at
        FROM jmeter_plans ORDER BY created_at DESC, id DESC LIMIT $1
    `
	listPlansBeforeQuery = `
        SELECT id, prompt, status, error, model, source, processing_time_ms, created_at, completed_at
        FROM jmeter_plans WHERE (created_at, id) < ($2, $3)
        ORDER BY created_at DESC, id DESC LIMIT $1
    `
)

type postgresPlanRepository struct {
	db     DBTX
	logger *zap.Logger
}

// NewPostgresPlanRepository returns a PlanRepository over the jmeter_plans table.
func NewPostgresPlanRepository(db DBTX, logger *zap.Logger) PlanRepository {
	return &postgresPlanRepository{
		db:     db,
		logger: logger.Named("PlanRepository"),
	}
}

func (r *postgresPlanRepository) Save(ctx context.Context, plan *model.PlanRecord) error {
	_, err := r.db.Exec(ctx, upsertPlanQuery,
		plan.ID,
		plan.Prompt,
		plan.Status,
		plan.JMXContent,
		plan.Error,
		plan.Model,
		plan.Source,
		plan.ProcessingTimeMs,
		plan.CreatedAt,
		plan.CompletedAt,
	)
	if err != nil {
		r.logger.Error("Error saving plan", zap.String("plan_id", plan.ID), zap.Error(err))
		return fmt.Errorf("failed to save plan '%s': %w", plan.ID, err)
	}
	r.logger.Debug("Plan saved", zap.String("plan_id", plan.ID), zap.String("status", string(plan.Status)))
	return nil
}

func (r *postgresPlanRepository) GetByID(ctx context.Context, id string) (*model.PlanRecord, error) {
	var plan model.PlanRecord
	if err := pgxscan.Get(ctx, r.db, &plan, getPlanByIDQuery, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Error getting plan by id", zap.String("plan_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get plan '%s': %w", id, err)
	}
	return &plan, nil
}

func (r *postgresPlanRepository) ListRecent(ctx context.Context, limit int, cursor string) ([]model.PlanSummary, string, error) {
	logFields := []zap.Field{zap.Int("limit", limit), zap.String("cursor", cursor)}

	cursorTime, cursorID, err := utils.DecodeCursor(cursor)
	if err != nil {
		r.logger.Warn("Invalid cursor provided for ListRecent", append(logFields, zap.Error(err))...)
		return nil, "", err
	}

	// One extra row tells whether another page exists.
	fetchLimit := limit + 1
	plans := make([]model.PlanSummary, 0, fetchLimit)
	if cursor == "" {
		err = pgxscan.Select(ctx, r.db, &plans, listRecentPlansQuery, fetchLimit)
	} else {
		err = pgxscan.Select(ctx, r.db, &plans, listPlansBeforeQuery, fetchLimit, cursorTime, cursorID)
	}
	if err != nil {
		r.logger.Error("Error listing plans", append(logFields, zap.Error(err))...)
		return nil, "", fmt.Errorf("failed to list plans: %w", err)
	}

	nextCursor := ""
	if len(plans) == fetchLimit {
		plans = plans[:limit]
		last := plans[limit-1]
		if id, err := uuid.Parse(last.ID); err == nil {
			nextCursor = utils.EncodeCursor(last.CreatedAt, id)
		}
	}
	return plans, nextCursor, nil
}
