package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/apk-analysis/apk-risk-analyzer/internal/analysis"
	"github.com/apk-analysis/apk-risk-analyzer/internal/domain"
	"github.com/apk-analysis/apk-risk-analyzer/internal/queue"
	"github.com/apk-analysis/apk-risk-analyzer/internal/retry"
	"github.com/apk-analysis/apk-risk-analyzer/internal/scoring"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProcessor 按任务 ID 返回预设结果
type fakeProcessor struct {
	mu       sync.Mutex
	calls    map[string]int
	failures map[string]int // 前 N 次返回可重试错误
	fatal    map[string]error
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{
		calls:    make(map[string]int),
		failures: make(map[string]int),
		fatal:    make(map[string]error),
	}
}

func (f *fakeProcessor) ProcessTask(ctx context.Context, taskID string) (*analysis.Report, error) {
	f.mu.Lock()
	f.calls[taskID]++
	n := f.calls[taskID]
	f.mu.Unlock()

	if err, ok := f.fatal[taskID]; ok {
		return nil, retry.NewNonRetryableError(err)
	}
	if n <= f.failures[taskID] {
		return nil, retry.NewRetryableError(errors.New("disk busy"))
	}
	return &analysis.Report{ID: "report-" + taskID, Score: &scoring.Report{Grade: "B"}}, nil
}

func (f *fakeProcessor) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestPool_SubmitAndWait(t *testing.T) {
	proc := newFakeProcessor()
	proc.fatal["bad"] = errors.New("unsupported")

	pool := NewPool(Options{Workers: 2}, proc, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	defer func() {
		cancel()
		pool.Stop()
	}()

	report, err := pool.SubmitAndWait(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "report-t1", report.ID)

	_, err = pool.SubmitAndWait(ctx, "bad")
	assert.Error(t, err)
	assert.False(t, retry.IsRetryable(err))
}

// TestPool_RetryableResubmitted 可重试失败在退避后重新执行
func TestPool_RetryableResubmitted(t *testing.T) {
	proc := newFakeProcessor()
	proc.failures["flaky"] = 2

	pool := NewPool(Options{Workers: 1, RetryDelay: time.Millisecond}, proc, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	defer func() {
		cancel()
		pool.Stop()
	}()

	require.NoError(t, pool.Submit("flaky"))
	assert.Eventually(t, func() bool {
		return proc.callCount("flaky") == 3
	}, 2*time.Second, 5*time.Millisecond)
}

// TestPool_SyncRetryContinues 同步调用拿到可重试错误后任务仍在后台重试
func TestPool_SyncRetryContinues(t *testing.T) {
	proc := newFakeProcessor()
	proc.failures["flaky"] = 1

	pool := NewPool(Options{Workers: 1, RetryDelay: time.Millisecond}, proc, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	defer func() {
		cancel()
		pool.Stop()
	}()

	_, err := pool.SubmitAndWait(ctx, "flaky")
	require.Error(t, err)
	assert.True(t, retry.IsRetryable(err))
	assert.Eventually(t, func() bool {
		return proc.callCount("flaky") == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPool_QueueFull(t *testing.T) {
	proc := newFakeProcessor()
	// 不启动 worker
	pool := NewPool(Options{Workers: 1, QueueSize: 1}, proc, testLogger())

	require.NoError(t, pool.Submit("a"))
	assert.ErrorIs(t, pool.Submit("b"), ErrQueueFull)
	assert.Equal(t, 1, pool.QueueSize())

	pool.Stop()
	assert.ErrorIs(t, pool.Submit("c"), ErrPoolStopped)
	_, err := pool.SubmitAndWait(context.Background(), "d")
	assert.ErrorIs(t, err, ErrPoolStopped)
}

func TestPool_Concurrent(t *testing.T) {
	proc := newFakeProcessor()
	pool := NewPool(Options{Workers: 4, QueueSize: 50}, proc, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	defer func() {
		cancel()
		pool.Stop()
	}()

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			if _, err := pool.SubmitAndWait(ctx, id); err == nil {
				ok.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(20), ok.Load())
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []string
	err  error
}

func (r *recordingPublisher) PublishScan(ctx context.Context, msg *queue.ScanMessage) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg.TaskID)
	return nil
}

// TestDispatcher 有队列时发布，失败时退回本地协程池
func TestDispatcher(t *testing.T) {
	proc := newFakeProcessor()
	pool := NewPool(Options{Workers: 1}, proc, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	defer func() {
		cancel()
		pool.Stop()
	}()

	pub := &recordingPublisher{}
	d := NewDispatcher(pool, pub, testLogger())

	require.NoError(t, d.Dispatch(ctx, &domain.ScanTask{ID: "q1", FileName: "a.apk", FilePath: "/a.apk"}))
	assert.Equal(t, []string{"q1"}, pub.msgs)
	assert.Zero(t, proc.callCount("q1"))

	pub.err = errors.New("channel is nil")
	require.NoError(t, d.Dispatch(ctx, &domain.ScanTask{ID: "local"}))
	assert.Eventually(t, func() bool { return proc.callCount("local") == 1 }, time.Second, 5*time.Millisecond)

	report, err := d.RunAndWait(ctx, "sync")
	require.NoError(t, err)
	assert.Equal(t, "report-sync", report.ID)
}
