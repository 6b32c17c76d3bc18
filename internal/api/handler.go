package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"perf-agent-server/internal/messaging"
	"perf-agent-server/internal/model"
	"perf-agent-server/internal/repository"
	"perf-agent-server/internal/service"
	"perf-agent-server/shared/middleware"
	"perf-agent-server/shared/utils"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100

	msgInvalidBody   = "Invalid request body."
	msgPlanNotFound  = "Plan not found."
	msgInvalidLimit  = "limit must be a positive integer."
	msgInvalidCursor = "Invalid cursor."
	msgInternalError = "Internal server error."
	msgEnqueueFailed = "Failed to enqueue plan generation."
)

type generatePlanRequest struct {
	Prompt string `json:"prompt"`
}

type generatePlanResponse struct {
	ID         string `json:"id"`
	JMXContent string `json:"jmxContent,omitempty"`
	Error      string `json:"error,omitempty"`
}

type asyncPlanResponse struct {
	ID     string           `json:"id"`
	Status model.PlanStatus `json:"status"`
}

// PlanHandler serves the JMeter plan endpoints. planRepo and publisher are
// optional; without them history and async routes are not registered.
type PlanHandler struct {
	generator service.PlanGenerator
	planRepo  repository.PlanRepository
	publisher messaging.TaskPublisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewPlanHandler(
	generator service.PlanGenerator,
	planRepo repository.PlanRepository,
	publisher messaging.TaskPublisher,
	logger *zap.Logger,
) *PlanHandler {
	return &PlanHandler{
		generator: generator,
		planRepo:  planRepo,
		publisher: publisher,
		logger:    logger.Named("PlanHandler"),
		now:       time.Now,
	}
}

// RegisterRoutes mounts the plan endpoints under rg.
func (h *PlanHandler) RegisterRoutes(rg *gin.RouterGroup) {
	plans := rg.Group("/jmeter/plans")
	plans.POST("", h.GeneratePlan)

	if h.planRepo == nil {
		return
	}
	plans.GET("", h.ListPlans)
	plans.GET("/:id", h.GetPlan)
	plans.GET("/:id/download", h.DownloadPlan)

	if h.publisher != nil {
		plans.POST("/async", h.EnqueuePlan)
	}
}

// GeneratePlan handles POST /jmeter/plans.
func (h *PlanHandler) GeneratePlan(c *gin.Context) {
	prompt, ok := h.bindPrompt(c)
	if !ok {
		return
	}

	// A client disconnect must neither abort the upstream call nor lose the record.
	ctx := context.WithoutCancel(c.Request.Context())
	log := h.logger.With(zap.String("request_id", middleware.RequestID(c)))
	plan := h.newPlan(prompt, model.PlanSourceHTTP)

	startTime := h.now()
	result := h.generator.Generate(ctx, prompt)
	plan.Complete(result.OK(), result.Message(), h.now().Sub(startTime), h.now().UTC())

	if h.planRepo != nil {
		if err := h.planRepo.Save(ctx, plan); err != nil {
			log.Error("Failed to record plan", zap.String("plan_id", plan.ID), zap.Error(err))
		}
	}

	if !result.OK() {
		c.JSON(http.StatusBadGateway, generatePlanResponse{ID: plan.ID, Error: plan.Error})
		return
	}
	c.JSON(http.StatusOK, generatePlanResponse{ID: plan.ID, JMXContent: plan.JMXContent})
}

// EnqueuePlan handles POST /jmeter/plans/async.
func (h *PlanHandler) EnqueuePlan(c *gin.Context) {
	prompt, ok := h.bindPrompt(c)
	if !ok {
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	log := h.logger.With(zap.String("request_id", middleware.RequestID(c)))
	plan := h.newPlan(prompt, model.PlanSourceWorker)

	if err := h.planRepo.Save(ctx, plan); err != nil {
		log.Error("Failed to create pending plan", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternalError})
		return
	}

	payload := messaging.PlanGenerationTaskPayload{
		TaskID:      plan.ID,
		Prompt:      prompt,
		RequestedAt: plan.CreatedAt,
	}
	if err := h.publisher.PublishPlanTask(ctx, payload); err != nil {
		log.Error("Failed to publish plan task", zap.String("plan_id", plan.ID), zap.Error(err))
		plan.Complete(false, service.ErrorPrefix+" "+msgEnqueueFailed, 0, h.now().UTC())
		if saveErr := h.planRepo.Save(ctx, plan); saveErr != nil {
			log.Error("Failed to mark plan as failed", zap.String("plan_id", plan.ID), zap.Error(saveErr))
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"id": plan.ID, "error": msgEnqueueFailed})
		return
	}

	c.JSON(http.StatusAccepted, asyncPlanResponse{ID: plan.ID, Status: plan.Status})
}

// ListPlans handles GET /jmeter/plans?limit=&cursor=.
func (h *PlanHandler) ListPlans(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidLimit})
			return
		}
		limit = min(parsed, maxListLimit)
	}

	plans, nextCursor, err := h.planRepo.ListRecent(c.Request.Context(), limit, c.Query("cursor"))
	if err != nil {
		if errors.Is(err, utils.ErrInvalidCursor) {
			c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidCursor})
			return
		}
		h.logger.Error("Failed to list plans", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternalError})
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans, "limit": limit, "nextCursor": nextCursor})
}

// GetPlan handles GET /jmeter/plans/:id.
func (h *PlanHandler) GetPlan(c *gin.Context) {
	plan, ok := h.loadPlan(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, plan)
}

// DownloadPlan handles GET /jmeter/plans/:id/download.
func (h *PlanHandler) DownloadPlan(c *gin.Context) {
	plan, ok := h.loadPlan(c)
	if !ok {
		return
	}
	if plan.Status != model.PlanStatusCompleted {
		c.JSON(http.StatusNotFound, gin.H{"error": msgPlanNotFound})
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+plan.ID+".jmx")
	c.Data(http.StatusOK, "application/xml; charset=utf-8", []byte(plan.JMXContent))
}

// bindPrompt writes a 400 response and returns false when the body is unusable.
func (h *PlanHandler) bindPrompt(c *gin.Context) (string, bool) {
	var req generatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidBody})
		return "", false
	}
	if strings.TrimSpace(req.Prompt) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": service.ErrEmptyPrompt.Error()})
		return "", false
	}
	return req.Prompt, true
}

func (h *PlanHandler) loadPlan(c *gin.Context) (*model.PlanRecord, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": msgPlanNotFound})
		return nil, false
	}

	plan, err := h.planRepo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": msgPlanNotFound})
			return nil, false
		}
		h.logger.Error("Failed to load plan", zap.String("plan_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternalError})
		return nil, false
	}
	return plan, true
}

func (h *PlanHandler) newPlan(prompt string, source model.PlanSource) *model.PlanRecord {
	return &model.PlanRecord{
		ID:        uuid.NewString(),
		Prompt:    prompt,
		Status:    model.PlanStatusPending,
		Model:     h.generator.Model(),
		Source:    source,
		CreatedAt: h.now().UTC(),
	}
}
