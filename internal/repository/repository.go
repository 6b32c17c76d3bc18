package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"perf-agent-server/internal/model"
)

// ErrNotFound is returned when no plan has the requested id.
var ErrNotFound = errors.New("plan not found")

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PlanRepository stores plan generation history.
type PlanRepository interface {
	// Save inserts the record or overwrites the outcome of an existing one.
	Save(ctx context.Context, plan *model.PlanRecord) error
	GetByID(ctx context.Context, id string) (*model.PlanRecord, error)
	// ListRecent returns up to limit plans, newest first and without their JMX
	// bodies, starting after cursor. The returned cursor is empty on the last page.
	// A malformed cursor yields an error wrapping utils.ErrInvalidCursor.
	ListRecent(ctx context.Context, limit int, cursor string) ([]model.PlanSummary, string, error)
}
