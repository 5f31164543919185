// Package deferred runs non critical follow up work in the background, one task per tick.
package deferred

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
	"github.com/emirpasic/gods/stacks/arraystack"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/icanbwell/fhir-server-sub016/internal/build"
	"github.com/icanbwell/fhir-server-sub016/pkg/logger"
)

const (
	DefaultDelay = time.Second
	DefaultName  = "default"
)

var (
	ErrQueueStopped = errors.New("deferred queue is stopped")
	ErrQueueRunning = errors.New("deferred queue is already running")
)

var (
	pendingTasksGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: build.ProjectName,
		Name:      "deferred_pending_tasks",
		Help:      "The number of tasks waiting in a deferred queue, by queue name.",
	}, []string{"queue"})

	executedTasksCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "deferred_executed_tasks_total",
		Help:      "The total number of deferred tasks executed, by outcome.",
	}, []string{"outcome"})
)

// Task is a deferred unit of work. It has returned once it is considered executed; its own
// asynchronous side effects are not awaited.
type Task func()

// Policy decides which pending task runs next.
type Policy int

const (
	// FIFO runs tasks in enqueue order.
	FIFO Policy = iota
	// LIFO runs the most recently enqueued task first. Early tasks can starve under load.
	LIFO
)

func (p Policy) String() string {
	if p == LIFO {
		return "lifo"
	}
	return "fifo"
}

// ParsePolicy parses "fifo" or "lifo".
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "fifo", "":
		return FIFO, nil
	case "lifo":
		return LIFO, nil
	default:
		return FIFO, fmt.Errorf("unknown deferred queue policy %q", s)
	}
}

type pendingTasks interface {
	push(Task)
	pop() (Task, bool)
	size() int
}

type fifoTasks struct{ q *linkedlistqueue.Queue }

func (f fifoTasks) push(t Task) { f.q.Enqueue(t) }

func (f fifoTasks) pop() (Task, bool) {
	v, ok := f.q.Dequeue()
	if !ok {
		return nil, false
	}
	return v.(Task), true
}

func (f fifoTasks) size() int { return f.q.Size() }

type lifoTasks struct{ s *arraystack.Stack }

func (l lifoTasks) push(t Task) { l.s.Push(t) }

func (l lifoTasks) pop() (Task, bool) {
	v, ok := l.s.Pop()
	if !ok {
		return nil, false
	}
	return v.(Task), true
}

func (l lifoTasks) size() int { return l.s.Size() }

// Queue holds pending tasks and executes one of them every delay. Tasks never run
// concurrently with each other. A Queue is owned by the composition root: it is started
// once, stopped once, and cannot be restarted.
type Queue struct {
	name   string
	delay  time.Duration
	policy Policy
	logger logger.Logger

	pendingGauge prometheus.Gauge

	mu      sync.Mutex
	pending pendingTasks
	started bool
	stopped bool
	done    chan struct{}
	wg      sync.WaitGroup

	// exec serializes task execution between the timer loop and Drain.
	exec sync.Mutex
}

type QueueOption func(*Queue)

// WithName sets the queue label of the pending tasks gauge. Queues sharing a name share
// the gauge.
func WithName(name string) QueueOption {
	return func(q *Queue) {
		q.name = name
	}
}

// WithDelay sets the fixed delay between two ticks.
func WithDelay(d time.Duration) QueueOption {
	return func(q *Queue) {
		q.delay = d
	}
}

func WithPolicy(p Policy) QueueOption {
	return func(q *Queue) {
		q.policy = p
	}
}

func WithLogger(l logger.Logger) QueueOption {
	return func(q *Queue) {
		q.logger = l
	}
}

func NewQueue(opts ...QueueOption) *Queue {
	q := &Queue{
		name:   DefaultName,
		delay:  DefaultDelay,
		policy: FIFO,
		logger: logger.NewNoopLogger(),
		done:   make(chan struct{}),
	}

	for _, opt := range opts {
		opt(q)
	}

	if q.delay <= 0 {
		q.delay = DefaultDelay
	}
	if q.name == "" {
		q.name = DefaultName
	}
	q.pendingGauge = pendingTasksGauge.WithLabelValues(q.name)

	switch q.policy {
	case LIFO:
		q.pending = lifoTasks{s: arraystack.New()}
	default:
		q.pending = fifoTasks{q: linkedlistqueue.New()}
	}

	return q
}

// Start arms the timer. It fails once Stop has been called.
func (q *Queue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return ErrQueueStopped
	}
	if q.started {
		return ErrQueueRunning
	}

	q.started = true
	q.wg.Add(1)
	go q.run()

	q.logger.Debug("deferred queue started",
		zap.String("name", q.name),
		zap.Duration("delay", q.delay),
		zap.Stringer("policy", q.policy),
	)

	return nil
}

// Enqueue adds a task. Tasks enqueued after Stop stay pending until Drain.
func (q *Queue) Enqueue(task Task) {
	if task == nil {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending.push(task)
	q.pendingGauge.Inc()
}

// Pending returns the number of tasks not yet executed.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.pending.size()
}

// Stop cancels the timer and waits for a running task to return. Pending tasks are kept.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	close(q.done)
	q.mu.Unlock()

	q.wg.Wait()

	q.logger.Debug("deferred queue stopped", zap.Int("pending", q.Pending()))
}

// Drain runs every pending task synchronously, in policy order, until none is left or ctx
// is done. It returns the number of executed tasks.
func (q *Queue) Drain(ctx context.Context) (int, error) {
	executed := 0
	for {
		if err := ctx.Err(); err != nil {
			return executed, err
		}
		if !q.runNext() {
			return executed, nil
		}
		executed++
	}
}

func (q *Queue) run() {
	defer q.wg.Done()

	timer := time.NewTimer(q.delay)
	defer timer.Stop()

	for {
		select {
		case <-q.done:
			return
		case <-timer.C:
			q.runNext()
			timer.Reset(q.delay)
		}
	}
}

// runNext executes one pending task and reports whether there was one.
func (q *Queue) runNext() bool {
	q.exec.Lock()
	defer q.exec.Unlock()

	q.mu.Lock()
	task, ok := q.pending.pop()
	q.mu.Unlock()
	if !ok {
		return false
	}
	q.pendingGauge.Dec()

	q.execute(task)
	return true
}

func (q *Queue) execute(task Task) {
	defer func() {
		if r := recover(); r != nil {
			executedTasksCounter.WithLabelValues("panic").Inc()
			q.logger.Error("deferred task panicked", zap.Any("panic", r))
		}
	}()

	task()
	executedTasksCounter.WithLabelValues("ok").Inc()
}
