package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// JMeterSystemInstruction is sent with every plan generation request.
const JMeterSystemInstruction = `You are an expert JMeter performance testing engineer. Your task is to generate a complete and valid JMeter Test Plan (.jmx file format) based on the user's request. The output must be a single block of XML content. Do not include any explanatory text, markdown formatting, or code comments outside of the XML structure. The generated XML should be directly usable as a .jmx file.`

// JMeterPlanSchema is the structured-output contract for a test plan.
var JMeterPlanSchema = ResponseSchema{
	Name:        "jmeter_test_plan",
	Field:       "jmxContent",
	Description: "The full XML content of the JMeter .jmx test plan.",
}

const (
	// ErrorPrefix starts every failure message returned by GenerateJMeterTestPlan.
	ErrorPrefix = "Error:"

	failurePrefix  = ErrorPrefix + " Failed to generate plan. "
	unknownFailure = ErrorPrefix + " An unknown error occurred while generating the plan."

	xmlDeclarationPrefix = "<?xml"
)

var (
	ErrInvalidContent = errors.New("Invalid generated content received from AI.")
	// ErrEmptyPrompt is returned by callers, the generator itself does not check.
	ErrEmptyPrompt = errors.New("Prompt cannot be empty.")
)

var planGenerationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "perf_agent_plan_generations_total",
		Help: "Total number of JMeter plan generations by outcome.",
	},
	[]string{"outcome"}, // success | invalid_content | upstream_error | panic
)

// PlanResult is the outcome of one generation: JMX on success, Err otherwise.
type PlanResult struct {
	JMX string
	Err error
}

func (r PlanResult) OK() bool { return r.Err == nil }

// Message returns the JMX on success or the boundary failure message.
func (r PlanResult) Message() string {
	if r.Err == nil {
		return r.JMX
	}
	return FormatFailure(r.Err)
}

// PlanGenerator turns a scenario description into a JMeter test plan.
type PlanGenerator interface {
	Generate(ctx context.Context, prompt string) PlanResult
	// GenerateJMeterTestPlan returns the plan, or a message starting with ErrorPrefix.
	GenerateJMeterTestPlan(ctx context.Context, prompt string) string
	Model() string
}

type planGenerator struct {
	aiClient AIClient
	logger   *zap.Logger
}

// NewPlanGenerator returns a PlanGenerator backed by aiClient. It keeps no state
// between calls.
func NewPlanGenerator(aiClient AIClient, logger *zap.Logger) PlanGenerator {
	return &planGenerator{
		aiClient: aiClient,
		logger:   logger.Named("PlanGenerator"),
	}
}

func (g *planGenerator) Model() string { return g.aiClient.Model() }

func (g *planGenerator) GenerateJMeterTestPlan(ctx context.Context, prompt string) string {
	return g.Generate(ctx, prompt).Message()
}

// Generate makes exactly one upstream call and never panics.
func (g *planGenerator) Generate(ctx context.Context, prompt string) (result PlanResult) {
	log := g.logger.With(zap.String("model", g.aiClient.Model()), zap.Int("prompt_chars", len(prompt)))
	startTime := time.Now()

	defer func() {
		if r := recover(); r != nil {
			planGenerationsTotal.WithLabelValues("panic").Inc()
			log.Error("Recovered from panic during plan generation", zap.Any("panic", r), zap.Stack("stack"))
			if err, ok := r.(error); ok {
				result = PlanResult{Err: err}
				return
			}
			result = PlanResult{Err: errors.New("")}
		}
	}()

	raw, usage, err := g.aiClient.GenerateJSON(ctx, GenerationRequest{
		SystemInstruction: JMeterSystemInstruction,
		UserInput:         prompt,
		Schema:            JMeterPlanSchema,
	})
	if err != nil {
		planGenerationsTotal.WithLabelValues("upstream_error").Inc()
		log.Error("Error generating JMeter test plan", zap.Error(err), zap.Duration("duration", time.Since(startTime)))
		return PlanResult{Err: err}
	}

	jmx, err := extractJMX(raw, JMeterPlanSchema.Field)
	if err != nil {
		planGenerationsTotal.WithLabelValues("invalid_content").Inc()
		log.Error("Error generating JMeter test plan", zap.Error(err), zap.Int("response_chars", len(raw)))
		return PlanResult{Err: ErrInvalidContent}
	}

	planGenerationsTotal.WithLabelValues("success").Inc()
	log.Info("JMeter test plan generated",
		zap.Duration("duration", time.Since(startTime)),
		zap.Int("jmx_chars", len(jmx)),
		zap.Int("total_tokens", usage.TotalTokens),
	)
	return PlanResult{JMX: jmx}
}

// extractJMX parses the trimmed response and returns the field value unmodified.
// The returned error describes the defect for logging; callers report ErrInvalidContent.
func extractJMX(raw, field string) (string, error) {
	var parsed map[string]json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &parsed); err != nil {
		return "", fmt.Errorf("%w: response is not a JSON object: %v", ErrInvalidContent, err)
	}

	value, ok := parsed[field]
	if !ok {
		return "", fmt.Errorf("%w: field %q missing", ErrInvalidContent, field)
	}

	var content string
	// null unmarshals into a string without error, so check it first.
	if string(value) == "null" {
		return "", fmt.Errorf("%w: field %q is null", ErrInvalidContent, field)
	}
	if err := json.Unmarshal(value, &content); err != nil {
		return "", fmt.Errorf("%w: field %q is not a string", ErrInvalidContent, field)
	}

	if !strings.HasPrefix(content, xmlDeclarationPrefix) {
		return "", fmt.Errorf("%w: content does not start with an XML declaration", ErrInvalidContent)
	}
	return content, nil
}

// FormatFailure renders err as the boundary failure message.
func FormatFailure(err error) string {
	if err == nil || err.Error() == "" {
		return unknownFailure
	}
	return failurePrefix + err.Error()
}

// IsErrorMessage reports whether s is a failure message from GenerateJMeterTestPlan.
func IsErrorMessage(s string) bool {
	return strings.HasPrefix(s, ErrorPrefix)
}
