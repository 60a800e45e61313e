package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/forgefit/forgefit/internal/cashclose"
	jobmetrics "github.com/forgefit/forgefit/internal/jobs"
)

// OpenPeriodLister lists the OPEN cash periods.
type OpenPeriodLister interface {
	ListOpenPeriods(ctx context.Context) ([]cashclose.Period, error)
}

// IdempotencyCleaner prunes old idempotency keys.
type IdempotencyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IntegrityScanJob reports OPEN period anomalies and prunes expired idempotency keys.
type IntegrityScanJob struct {
	Periods     OpenPeriodLister
	Idempotency IdempotencyCleaner
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
}

// NewIntegrityScanJob initialises the integrity scan handler.
func NewIntegrityScanJob(periods OpenPeriodLister, idem IdempotencyCleaner, logger *slog.Logger, metrics *jobmetrics.Metrics) *IntegrityScanJob {
	return &IntegrityScanJob{Periods: periods, Idempotency: idem, Logger: logger, Metrics: metrics}
}

// Handle processes TaskCashPeriodIntegrity tasks. Duplicate OPEN periods are only reported;
// they are resolved by an operator.
func (j *IntegrityScanJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Periods == nil {
		return errors.New("integrity scan: handler not configured")
	}
	var payload IntegrityPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.IdempotencyRetentionHours <= 0 {
		payload.IdempotencyRetentionHours = 72
	}

	tracker := j.Metrics.Track(TaskCashPeriodIntegrity)
	defer func() { err = tracker.End(err) }()
	logger := j.logger()

	open, err := j.Periods.ListOpenPeriods(ctx)
	if err != nil {
		logger.Error("integrity scan list open periods", slog.Any("error", err))
		return err
	}
	switch {
	case len(open) > 1:
		ids := make([]string, 0, len(open))
		for _, p := range open {
			ids = append(ids, strconv.FormatInt(p.ID, 10))
		}
		logger.Error("multiple open cash periods",
			slog.Int("count", len(open)),
			slog.String("period_ids", strings.Join(ids, ",")))
		j.Metrics.AddAnomalies("multiple_open_periods", len(open)-1)
	case len(open) == 0:
		logger.Info("no open cash period; the next request opens one")
	}

	if j.Idempotency != nil {
		removed, err := j.Idempotency.Cleanup(ctx, time.Duration(payload.IdempotencyRetentionHours)*time.Hour)
		if err != nil {
			logger.Warn("idempotency cleanup", slog.Any("error", err))
		} else if removed > 0 {
			logger.Info("idempotency keys pruned", slog.Int64("removed", removed))
		}
	}
	return nil
}

func (j *IntegrityScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
