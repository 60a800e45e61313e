package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/forgefit/forgefit/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCashPeriodClosed verifies the snapshot of a freshly closed cash period.
	TaskCashPeriodClosed = "cash:period:closed"
	// TaskCashPeriodIntegrity scans for OPEN period anomalies and prunes idempotency keys.
	TaskCashPeriodIntegrity = "cash:period:integrity"
)

// PeriodClosedPayload identifies the closed period to verify.
type PeriodClosedPayload struct {
	PeriodID int64 `json:"period_id"`
}

// NewPeriodClosedTask builds the post-close task. The task id is derived from the period so a
// period is verified at most once per retention window.
func NewPeriodClosedTask(periodID int64) (*asynq.Task, error) {
	if periodID <= 0 {
		return nil, fmt.Errorf("jobs: invalid period id %d", periodID)
	}
	data, err := json.Marshal(PeriodClosedPayload{PeriodID: periodID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCashPeriodClosed, data,
		asynq.TaskID(shared.CashPeriodTaskKey("closed", periodID)),
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(5),
		asynq.Retention(24*time.Hour),
	), nil
}

// IntegrityPayload tunes the integrity scan.
type IntegrityPayload struct {
	IdempotencyRetentionHours int `json:"idempotency_retention_hours"`
}

// NewIntegrityTask builds the periodic integrity scan task.
func NewIntegrityTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(IntegrityPayload{IdempotencyRetentionHours: int(retention.Hours())})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCashPeriodIntegrity, data, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}
