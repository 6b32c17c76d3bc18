package model

import (
	"time"
)

// PlanStatus is the lifecycle state of a stored plan.
type PlanStatus string

const (
	PlanStatusPending   PlanStatus = "pending"
	PlanStatusCompleted PlanStatus = "completed"
	PlanStatusFailed    PlanStatus = "failed"
)

// PlanSource names the caller that requested a plan.
type PlanSource string

const (
	PlanSourceHTTP   PlanSource = "http"
	PlanSourceWorker PlanSource = "worker"
	PlanSourceCLI    PlanSource = "cli"
)

// PlanRecord is one generation request and its outcome, as stored in jmeter_plans.
type PlanRecord struct {
	ID               string     `db:"id" json:"id"`
	Prompt           string     `db:"prompt" json:"prompt"`
	Status           PlanStatus `db:"status" json:"status"`
	JMXContent       string     `db:"jmx_content" json:"jmxContent,omitempty"`
	Error            string     `db:"error" json:"error,omitempty"` // failure message shown to the user
	Model            string     `db:"model" json:"model"`
	Source           PlanSource `db:"source" json:"source"`
	ProcessingTimeMs int64      `db:"processing_time_ms" json:"processingTimeMs"`
	CreatedAt        time.Time  `db:"created_at" json:"createdAt"`
	CompletedAt      *time.Time `db:"completed_at" json:"completedAt,omitempty"`
}

// Complete fills in the outcome of a generation. message is either the JMX or a
// failure message; ok tells which.
func (p *PlanRecord) Complete(ok bool, message string, processingTime time.Duration, completedAt time.Time) {
	if ok {
		p.Status = PlanStatusCompleted
		p.JMXContent = message
		p.Error = ""
	} else {
		p.Status = PlanStatusFailed
		p.JMXContent = ""
		p.Error = message
	}
	p.ProcessingTimeMs = processingTime.Milliseconds()
	p.CompletedAt = &completedAt
}

// PlanSummary is a PlanRecord without the document body, for listings.
type PlanSummary struct {
	ID               string     `db:"id" json:"id"`
	Prompt           string     `db:"prompt" json:"prompt"`
	Status           PlanStatus `db:"status" json:"status"`
	Error            string     `db:"error" json:"error,omitempty"`
	Model            string     `db:"model" json:"model"`
	Source           PlanSource `db:"source" json:"source"`
	ProcessingTimeMs int64      `db:"processing_time_ms" json:"processingTimeMs"`
	CreatedAt        time.Time  `db:"created_at" json:"createdAt"`
	CompletedAt      *time.Time `db:"completed_at" json:"completedAt,omitempty"`
}
