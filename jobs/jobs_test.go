package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgefit/forgefit/internal/cashclose"
	jobmetrics "github.com/forgefit/forgefit/internal/jobs"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubPeriods struct {
	period cashclose.Period
	open   []cashclose.Period
	err    error
}

func (s stubPeriods) GetPeriod(ctx context.Context, id int64) (cashclose.Period, error) {
	return s.period, s.err
}

func (s stubPeriods) ListOpenPeriods(ctx context.Context) ([]cashclose.Period, error) {
	return s.open, s.err
}

type stubCleaner struct {
	olderThan time.Duration
	removed   int64
}

func (s *stubCleaner) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.olderThan = olderThan
	return s.removed, nil
}

func closedPeriod(t *testing.T) cashclose.Period {
	t.Helper()
	start := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	end := start.Add(8 * time.Hour)
	rng := cashclose.Range{Start: start, End: end}
	record := cashclose.CloseRecord{
		ExpectedCashAmount: 90, ExpectedNonCashAmount: 140, ExpectedTotalAmount: 230,
		ActualCashAmount: 100, ActualNonCashAmount: 140, ActualTotalAmount: 240,
		DifferenceCash: 10, DifferenceTotal: 10,
	}
	raw, err := cashclose.EncodeSnapshot(cashclose.BuildCloseSnapshot(3, rng, cashclose.FinancialSnapshot{}, record, cashclose.Movements{}, end))
	require.NoError(t, err)
	return cashclose.Period{
		ID: 3, Status: cashclose.PeriodStatusClosed, StartAt: start, EndAt: &end,
		ExpectedCashAmount: 90, ExpectedNonCashAmount: 140, ExpectedTotalAmount: 230,
		ActualCashAmount: 100, ActualNonCashAmount: 140, ActualTotalAmount: 240,
		DifferenceCash: 10, DifferenceTotal: 10, SnapshotJSON: raw,
	}
}

func TestNewPeriodClosedTask(t *testing.T) {
	task, err := NewPeriodClosedTask(42)
	require.NoError(t, err)
	assert.Equal(t, TaskCashPeriodClosed, task.Type())

	var payload PeriodClosedPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, int64(42), payload.PeriodID)

	_, err = NewPeriodClosedTask(0)
	assert.Error(t, err)
}

func TestPeriodVerifyJob(t *testing.T) {
	task, err := NewPeriodClosedTask(3)
	require.NoError(t, err)

	t.Run("consistent snapshot", func(t *testing.T) {
		job := NewPeriodVerifyJob(stubPeriods{period: closedPeriod(t)}, quietLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))
		assert.NoError(t, job.Handle(context.Background(), task))
	})

	t.Run("mismatch is reported without retry", func(t *testing.T) {
		p := closedPeriod(t)
		p.ExpectedCashAmount = 95
		job := NewPeriodVerifyJob(stubPeriods{period: p}, quietLogger(), nil)
		assert.NoError(t, job.Handle(context.Background(), task))
	})

	t.Run("missing period skips retry", func(t *testing.T) {
		job := NewPeriodVerifyJob(stubPeriods{err: &cashclose.Error{Code: cashclose.CodeNotFound, Message: "gone"}}, quietLogger(), nil)
		err := job.Handle(context.Background(), task)
		assert.ErrorIs(t, err, asynq.SkipRetry)
	})

	t.Run("database errors retry", func(t *testing.T) {
		boom := errors.New("connection reset")
		job := NewPeriodVerifyJob(stubPeriods{err: boom}, quietLogger(), nil)
		assert.ErrorIs(t, job.Handle(context.Background(), task), boom)
	})

	t.Run("bad payload", func(t *testing.T) {
		job := NewPeriodVerifyJob(stubPeriods{}, quietLogger(), nil)
		err := job.Handle(context.Background(), asynq.NewTask(TaskCashPeriodClosed, []byte("nope")))
		assert.ErrorIs(t, err, asynq.SkipRetry)
	})
}

func TestIntegrityScanJob(t *testing.T) {
	task, err := NewIntegrityTask(48 * time.Hour)
	require.NoError(t, err)

	cleaner := &stubCleaner{removed: 4}
	open := []cashclose.Period{{ID: 1}, {ID: 2}}
	job := NewIntegrityScanJob(stubPeriods{open: open}, cleaner, quietLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 48*time.Hour, cleaner.olderThan)

	cleaner = &stubCleaner{}
	job = NewIntegrityScanJob(stubPeriods{}, cleaner, quietLogger(), nil)
	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskCashPeriodIntegrity, nil)))
	assert.Equal(t, 72*time.Hour, cleaner.olderThan)

	boom := errors.New("timeout")
	job = NewIntegrityScanJob(stubPeriods{err: boom}, nil, quietLogger(), nil)
	assert.ErrorIs(t, job.Handle(context.Background(), task), boom)
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{}, f.err
}

func (f *fakeEnqueuer) Close() error { return nil }

func TestClientNotifyPeriodClosed(t *testing.T) {
	fake := &fakeEnqueuer{}
	client := &Client{client: fake}
	require.NoError(t, client.NotifyPeriodClosed(context.Background(), 9))
	require.Len(t, fake.tasks, 1)
	assert.Equal(t, TaskCashPeriodClosed, fake.tasks[0].Type())

	fake.err = asynq.ErrTaskIDConflict
	assert.NoError(t, client.NotifyPeriodClosed(context.Background(), 9))

	fake.err = errors.New("redis down")
	assert.Error(t, client.NotifyPeriodClosed(context.Background(), 9))
}

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) { return f.info, f.err }

func TestHandlerHealth(t *testing.T) {
	serve := func(h *Handler) *httptest.ResponseRecorder {
		r := chi.NewRouter()
		r.Route("/jobs", h.MountRoutes)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
		return rr
	}

	rr := serve(&Handler{inspector: fakeInspector{info: &asynq.QueueInfo{Queue: "default", Pending: 3, Retry: 1}}, logger: quietLogger()})
	require.Equal(t, http.StatusOK, rr.Code)
	var body queueHealth
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, queueHealth{Queue: "default", Pending: 3, Retry: 1}, body)

	rr = serve(&Handler{inspector: fakeInspector{err: errors.New("down")}, logger: quietLogger()})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = serve(NewHandler(nil, quietLogger()))
	assert.Equal(t, http.StatusOK, rr.Code)
}
