package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/forgefit/forgefit/internal/cashclose"
	jobmetrics "github.com/forgefit/forgefit/internal/jobs"
)

// PeriodReader loads a single cash period.
type PeriodReader interface {
	GetPeriod(ctx context.Context, id int64) (cashclose.Period, error)
}

// PeriodVerifyJob re-reads a closed period and checks its snapshot against the stored totals.
type PeriodVerifyJob struct {
	Periods PeriodReader
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewPeriodVerifyJob initialises the post-close verification handler.
func NewPeriodVerifyJob(periods PeriodReader, logger *slog.Logger, metrics *jobmetrics.Metrics) *PeriodVerifyJob {
	return &PeriodVerifyJob{Periods: periods, Logger: logger, Metrics: metrics}
}

// Handle processes TaskCashPeriodClosed tasks. A mismatch is reported, not retried.
func (j *PeriodVerifyJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Periods == nil {
		return errors.New("period verify: handler not configured")
	}
	var payload PeriodClosedPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.PeriodID <= 0 {
		return fmt.Errorf("period verify: bad payload: %w", asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskCashPeriodClosed)
	defer func() { err = tracker.End(err) }()

	logger := j.logger().With(slog.Int64("period_id", payload.PeriodID))
	period, err := j.Periods.GetPeriod(ctx, payload.PeriodID)
	if err != nil {
		if errors.Is(err, cashclose.ErrNotFound) {
			logger.Warn("closed period vanished before verification")
			return fmt.Errorf("period verify: %w", asynq.SkipRetry)
		}
		return err
	}

	if err := cashclose.VerifySnapshot(period); err != nil {
		logger.Error("cash period snapshot mismatch", slog.Any("error", err))
		j.Metrics.AddAnomalies("snapshot_mismatch", 1)
		return nil
	}
	logger.Info("cash period snapshot verified",
		slog.Float64("expected_total", period.ExpectedTotalAmount),
		slog.Float64("difference_total", period.DifferenceTotal))
	return nil
}

func (j *PeriodVerifyJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
