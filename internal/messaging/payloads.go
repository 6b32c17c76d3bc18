package messaging

import "time"

// PlanGenerationTaskPayload asks the worker to generate one plan.
type PlanGenerationTaskPayload struct {
	TaskID      string    `json:"taskId"` // also the plan id
	Prompt      string    `json:"prompt"`
	RequestedAt time.Time `json:"requestedAt"`
}

// NotificationStatus is the outcome reported for a task.
type NotificationStatus string

const (
	NotificationStatusSuccess NotificationStatus = "success"
	NotificationStatusError   NotificationStatus = "error"
)

// PlanNotificationPayload is published after a task reaches a final state.
type PlanNotificationPayload struct {
	TaskID       string             `json:"task_id"`
	Status       NotificationStatus `json:"status"`
	ErrorDetails string             `json:"error_details,omitempty"`
	CompletedAt  time.Time          `json:"completed_at"`
}
