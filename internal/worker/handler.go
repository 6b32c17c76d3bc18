package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"perf-agent-server/internal/messaging"
	"perf-agent-server/internal/model"
	"perf-agent-server/internal/repository"
	"perf-agent-server/internal/service"
)

const notifyTimeout = 10 * time.Second

// TaskHandler generates one plan per task, records the outcome and notifies.
type TaskHandler struct {
	generator service.PlanGenerator
	planRepo  repository.PlanRepository
	notifier  messaging.Notifier
	logger    *zap.Logger
	now       func() time.Time
}

func NewTaskHandler(
	generator service.PlanGenerator,
	planRepo repository.PlanRepository,
	notifier messaging.Notifier,
	logger *zap.Logger,
) *TaskHandler {
	return &TaskHandler{
		generator: generator,
		planRepo:  planRepo,
		notifier:  notifier,
		logger:    logger.Named("TaskHandler"),
		now:       time.Now,
	}
}

// Handle processes one task. It returns an error only when the outcome could not
// be stored; a failed generation is a handled task. A task whose record is already
// final is acknowledged without calling the generator again.
func (h *TaskHandler) Handle(ctx context.Context, payload messaging.PlanGenerationTaskPayload) error {
	MetricsIncrementTasksReceived()
	startTime := h.now()
	log := h.logger.With(zap.String("task_id", payload.TaskID))
	log.Info("Processing plan generation task", zap.Int("prompt_chars", len(payload.Prompt)))

	defer func() {
		MetricsRecordTaskDuration(h.now().Sub(startTime))
	}()

	plan, err := h.loadOrCreate(ctx, payload)
	if err != nil {
		MetricsIncrementTaskFailed(failureReasonStorage)
		return err
	}
	if plan.Status != model.PlanStatusPending {
		log.Warn("Task already processed, skipping", zap.String("status", string(plan.Status)))
		return nil
	}

	if strings.TrimSpace(payload.Prompt) == "" {
		MetricsIncrementTaskFailed(failureReasonEmptyPrompt)
		log.Warn("Task has an empty prompt")
		plan.Complete(false, service.ErrEmptyPrompt.Error(), h.now().Sub(startTime), h.now().UTC())
	} else {
		result := h.generator.Generate(ctx, payload.Prompt)
		plan.Model = h.generator.Model()
		plan.Complete(result.OK(), result.Message(), h.now().Sub(startTime), h.now().UTC())
		if result.OK() {
			MetricsIncrementTaskSucceeded()
		} else {
			MetricsIncrementTaskFailed(failureReasonGeneration)
		}
	}

	if err := h.planRepo.Save(ctx, plan); err != nil {
		MetricsIncrementTaskFailed(failureReasonStorage)
		return fmt.Errorf("failed to store outcome of task %s: %w", payload.TaskID, err)
	}

	h.notify(log, plan)
	log.Info("Task processed",
		zap.String("status", string(plan.Status)),
		zap.Int64("processing_time_ms", plan.ProcessingTimeMs),
	)
	return nil
}

func (h *TaskHandler) loadOrCreate(ctx context.Context, payload messaging.PlanGenerationTaskPayload) (*model.PlanRecord, error) {
	plan, err := h.planRepo.GetByID(ctx, payload.TaskID)
	if err == nil {
		return plan, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to load plan %s: %w", payload.TaskID, err)
	}

	createdAt := payload.RequestedAt
	if createdAt.IsZero() {
		createdAt = h.now().UTC()
	}
	return &model.PlanRecord{
		ID:        payload.TaskID,
		Prompt:    payload.Prompt,
		Status:    model.PlanStatusPending,
		Model:     h.generator.Model(),
		Source:    model.PlanSourceWorker,
		CreatedAt: createdAt,
	}, nil
}

// notify failures are logged only; redelivering the task would repeat the upstream call.
func (h *TaskHandler) notify(log *zap.Logger, plan *model.PlanRecord) {
	notification := messaging.PlanNotificationPayload{
		TaskID: plan.ID,
		Status: messaging.NotificationStatusSuccess,
	}
	if plan.CompletedAt != nil {
		notification.CompletedAt = *plan.CompletedAt
	}
	if plan.Status == model.PlanStatusFailed {
		notification.Status = messaging.NotificationStatusError
		notification.ErrorDetails = plan.Error
	}

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := h.notifier.Notify(ctx, notification); err != nil {
		log.Error("Failed to send task notification", zap.Error(err))
	}
}
