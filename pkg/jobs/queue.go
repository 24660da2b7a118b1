package jobs

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrQueueStopped is returned when enqueueing on a queue that is not running.
	ErrQueueStopped = errors.New("queue not running")
	// ErrQueueFull is returned by TryEnqueue when the job's lane has no room.
	ErrQueueFull = errors.New("queue full")
)

// Job represents a queued background task. Jobs sharing a Key are handled in
// enqueue order by the same worker; jobs without a Key are spread round robin.
type Job struct {
	ID       string
	Type     string
	Key      string
	Payload  interface{}
	Attempt  int
	Enqueued time.Time
}

// Handler processes a job.
type Handler func(context.Context, Job) error

// QueueConfig configures worker pool behaviour.
type QueueConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// Queue is an in-memory job dispatcher with one lane per worker.
type Queue struct {
	name    string
	handler Handler

	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger

	lanes []chan Job
	next  uint32

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewQueue builds a new queue with the provided handler. BufferSize is per lane.
func NewQueue(name string, handler Handler, cfg QueueConfig) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 4
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	lanes := make([]chan Job, cfg.Workers)
	for i := range lanes {
		lanes[i] = make(chan Job, cfg.BufferSize)
	}
	return &Queue{
		name:       name,
		handler:    handler,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger.With(zap.String("queue", name)),
		lanes:      lanes,
	}
}

// Start begins worker consumption. Later calls are no-ops while running.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	for _, lane := range q.lanes {
		q.wg.Add(1)
		go q.worker(lane)
	}
	q.started = true
	q.logger.Info("queue started", zap.Int("workers", len(q.lanes)))
}

// Stop cancels workers and waits for them to exit. Buffered jobs are discarded.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.cancel()
	q.started = false
	q.mu.Unlock()
	q.wg.Wait()
	q.logger.Info("queue stopped")
}

// Enqueue pushes a job, waiting for room in its lane.
func (q *Queue) Enqueue(job Job) error {
	ctx, lane, job, err := q.prepare(job)
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("queue %s: %w", q.name, ErrQueueStopped)
	case lane <- job:
		return nil
	}
}

// TryEnqueue pushes a job without waiting; ErrQueueFull reports a saturated lane.
func (q *Queue) TryEnqueue(job Job) error {
	_, lane, job, err := q.prepare(job)
	if err != nil {
		return err
	}
	select {
	case lane <- job:
		return nil
	default:
		return fmt.Errorf("queue %s: %w", q.name, ErrQueueFull)
	}
}

// Len reports the number of buffered jobs across all lanes.
func (q *Queue) Len() int {
	n := 0
	for _, lane := range q.lanes {
		n += len(lane)
	}
	return n
}

func (q *Queue) prepare(job Job) (context.Context, chan Job, Job, error) {
	q.mu.Lock()
	ctx := q.ctx
	started := q.started
	q.mu.Unlock()

	if !started || ctx.Err() != nil {
		return nil, nil, job, fmt.Errorf("queue %s: %w", q.name, ErrQueueStopped)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now().UTC()
	}
	return ctx, q.laneFor(job.Key), job, nil
}

func (q *Queue) laneFor(key string) chan Job {
	if len(q.lanes) == 1 {
		return q.lanes[0]
	}
	if key == "" {
		return q.lanes[atomic.AddUint32(&q.next, 1)%uint32(len(q.lanes))]
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return q.lanes[h.Sum32()%uint32(len(q.lanes))]
}

func (q *Queue) worker(lane chan Job) {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-lane:
			if err := q.handler(q.ctx, job); err != nil {
				q.handleFailure(job, err)
			}
		}
	}
}

func (q *Queue) handleFailure(job Job, err error) {
	job.Attempt++
	fields := []zap.Field{zap.String("job_id", job.ID), zap.String("type", job.Type), zap.Int("attempt", job.Attempt), zap.Error(err)}
	if job.Attempt > q.maxRetries {
		q.logger.Error("job exceeded retries", fields...)
		return
	}
	q.logger.Warn("job failed, retrying", fields...)

	go func(j Job) {
		timer := time.NewTimer(q.retryDelay)
		defer timer.Stop()
		select {
		case <-q.ctx.Done():
			return
		case <-timer.C:
			if err := q.Enqueue(j); err != nil {
				q.logger.Error("failed to requeue job", zap.String("job_id", j.ID), zap.Error(err))
			}
		}
	}(job)
}
