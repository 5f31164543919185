package deferred

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/icanbwell/fhir-server-sub016/pkg/logger"
)

const testDelay = 5 * time.Millisecond

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu  sync.Mutex
	ran []string
}

func (r *recorder) task(name string) Task {
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.ran = append(r.ran, name)
	}
}

func (r *recorder) order() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ran...)
}

func TestTicksExecuteEachTaskOnceInPolicyOrder(t *testing.T) {
	tests := []struct {
		policy   Policy
		expected []string
	}{
		{policy: FIFO, expected: []string{"T1", "T2", "T3"}},
		{policy: LIFO, expected: []string{"T3", "T2", "T1"}},
	}

	for _, test := range tests {
		t.Run(test.policy.String(), func(t *testing.T) {
			q := NewQueue(WithDelay(testDelay), WithPolicy(test.policy))
			rec := &recorder{}

			q.Enqueue(rec.task("T1"))
			q.Enqueue(rec.task("T2"))
			q.Enqueue(rec.task("T3"))
			require.Equal(t, 3, q.Pending())

			require.NoError(t, q.Start())
			require.Eventually(t, func() bool { return q.Pending() == 0 }, time.Second, testDelay)
			q.Stop()

			require.Equal(t, test.expected, rec.order())
		})
	}
}

func TestOneTaskPerTick(t *testing.T) {
	q := NewQueue(WithDelay(time.Hour))
	rec := &recorder{}

	q.Enqueue(rec.task("T1"))
	q.Enqueue(rec.task("T2"))

	require.True(t, q.runNext())
	require.Equal(t, []string{"T1"}, rec.order())
	require.Equal(t, 1, q.Pending())
}

func TestTasksNeverRunConcurrently(t *testing.T) {
	q := NewQueue(WithDelay(time.Millisecond))

	var running, overlaps, executed atomic.Int32
	for range 10 {
		q.Enqueue(func() {
			if running.Add(1) > 1 {
				overlaps.Add(1)
			}
			time.Sleep(2 * time.Millisecond)
			running.Add(-1)
			executed.Add(1)
		})
	}

	require.NoError(t, q.Start())

	drained, err := q.Drain(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return executed.Load() == 10 }, time.Second, time.Millisecond)
	q.Stop()

	require.LessOrEqual(t, drained, 10)
	require.Zero(t, overlaps.Load())
}

func TestStopKeepsPendingTasks(t *testing.T) {
	q := NewQueue(WithDelay(time.Hour))
	rec := &recorder{}

	require.NoError(t, q.Start())
	q.Enqueue(rec.task("T1"))
	q.Enqueue(rec.task("T2"))
	q.Stop()
	q.Stop()

	require.Equal(t, 2, q.Pending())
	require.Empty(t, rec.order())

	require.ErrorIs(t, q.Start(), ErrQueueStopped)

	n, err := q.Drain(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []string{"T1", "T2"}, rec.order())
	require.Zero(t, q.Pending())
}

func TestStartTwice(t *testing.T) {
	q := NewQueue(WithDelay(time.Hour))

	require.NoError(t, q.Start())
	require.ErrorIs(t, q.Start(), ErrQueueRunning)
	q.Stop()
}

func TestStopBeforeStart(t *testing.T) {
	q := NewQueue()
	q.Stop()

	require.ErrorIs(t, q.Start(), ErrQueueStopped)
}

func TestDrainHonorsContext(t *testing.T) {
	q := NewQueue(WithDelay(time.Hour))
	rec := &recorder{}
	q.Enqueue(rec.task("T1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n, err := q.Drain(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, n)
	require.Equal(t, 1, q.Pending())
}

func TestPanickingTaskDoesNotStopQueue(t *testing.T) {
	l, logs := logger.NewObserverLogger("error")
	q := NewQueue(WithDelay(testDelay), WithLogger(l))
	rec := &recorder{}

	q.Enqueue(func() { panic("boom") })
	q.Enqueue(rec.task("T2"))

	require.NoError(t, q.Start())
	require.Eventually(t, func() bool { return len(rec.order()) == 1 }, time.Second, testDelay)
	q.Stop()

	require.Equal(t, 1, logs.FilterMessage("deferred task panicked").Len())
}

func TestNilTaskIgnored(t *testing.T) {
	q := NewQueue()
	q.Enqueue(nil)

	require.Zero(t, q.Pending())
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("lifo")
	require.NoError(t, err)
	require.Equal(t, LIFO, p)

	p, err = ParsePolicy("")
	require.NoError(t, err)
	require.Equal(t, FIFO, p)

	_, err = ParsePolicy("random")
	require.Error(t, err)
}

func TestPendingGaugeIsPerQueue(t *testing.T) {
	first := NewQueue(WithName("pending-gauge-first"))
	second := NewQueue(WithName("pending-gauge-second"))

	first.Enqueue(func() {})
	first.Enqueue(func() {})
	second.Enqueue(func() {})

	require.InDelta(t, 2, testutil.ToFloat64(pendingTasksGauge.WithLabelValues("pending-gauge-first")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(pendingTasksGauge.WithLabelValues("pending-gauge-second")), 0)

	executed, err := first.Drain(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, executed)

	require.InDelta(t, 0, testutil.ToFloat64(pendingTasksGauge.WithLabelValues("pending-gauge-first")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(pendingTasksGauge.WithLabelValues("pending-gauge-second")), 0)

	_, err = second.Drain(context.Background())
	require.NoError(t, err)
}
