package cli

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgefit/forgefit/jobs"
)

type fakeClient struct {
	types []string
}

func (f *fakeClient) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.types = append(f.types, task.Type())
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func (f *fakeClient) Close() error { return nil }

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f fakeInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return f.info, f.err }
func (f fakeInspector) Close() error                                 { return nil }

func TestTrigger(t *testing.T) {
	client := &fakeClient{}
	c := &JobsCLI{client: client}

	_, err := c.Trigger(context.Background(), jobs.TaskCashPeriodIntegrity, 0)
	require.NoError(t, err)
	_, err = c.Trigger(context.Background(), jobs.TaskCashPeriodClosed, 12)
	require.NoError(t, err)
	assert.Equal(t, []string{jobs.TaskCashPeriodIntegrity, jobs.TaskCashPeriodClosed}, client.types)

	_, err = c.Trigger(context.Background(), jobs.TaskCashPeriodClosed, 0)
	assert.Error(t, err)
	_, err = c.Trigger(context.Background(), "mail:send", 0)
	assert.Error(t, err)
}

func TestInspectQueue(t *testing.T) {
	c := &JobsCLI{inspector: fakeInspector{info: &asynq.QueueInfo{Pending: 2, Active: 1, Retry: 4}}}
	stats, err := c.InspectQueue()
	require.NoError(t, err)
	assert.Equal(t, QueueStats{Queue: jobs.QueueDefault, Pending: 2, Active: 1, Retry: 4}, stats)

	c = &JobsCLI{inspector: fakeInspector{err: errors.New("down")}}
	_, err = c.InspectQueue()
	assert.Error(t, err)
}
