package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-classwall/internal/models"
	"github.com/noah-isme/sma-classwall/pkg/jobs"
)

// EventPublisher is the side of the event bus used by feed controllers.
type EventPublisher interface {
	Publish(event models.FeedEvent)
}

// EventService delivers feed events to the subscribers of the viewer they belong to.
// Events travel through a worker queue so publishers never block on slow subscribers.
type EventService struct {
	queue   *jobs.Queue
	metrics *MetricsService
	logger  *zap.Logger

	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]func(models.FeedEvent)
}

// NewEventService builds the bus and its queue. Call Start before publishing. metrics may be nil.
func NewEventService(cfg jobs.QueueConfig, metrics *MetricsService, logger *zap.Logger) *EventService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &EventService{metrics: metrics, logger: logger, subs: make(map[string]map[int]func(models.FeedEvent))}
	cfg.Logger = logger
	s.queue = jobs.NewQueue("feed-events", s.handle, cfg)
	return s
}

// Start launches the delivery workers.
func (s *EventService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *EventService) Stop() {
	s.queue.Stop()
}

// Publish stamps and enqueues the event without blocking. Events of one viewer keep their order.
// When the viewer's lane is full the event is dropped and counted; when the queue is not
// running nothing is buffered and the event is delivered inline.
func (s *EventService) Publish(event models.FeedEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	err := s.queue.TryEnqueue(jobs.Job{ID: event.ID, Type: string(event.Type), Key: event.ViewerID, Payload: event})
	switch {
	case err == nil:
	case errors.Is(err, jobs.ErrQueueFull):
		s.metrics.RecordDroppedEvent(string(event.Type))
		s.logger.Warn("event lane full, dropping event",
			zap.String("type", string(event.Type)),
			zap.String("viewer_id", event.ViewerID),
		)
	default:
		s.logger.Debug("event queue not running, delivering inline", zap.String("type", string(event.Type)), zap.Error(err))
		s.deliver(event)
	}
}

// Subscribe registers fn for the viewer's events and returns a function removing it.
// fn must not block.
func (s *EventService) Subscribe(viewerID string, fn func(models.FeedEvent)) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	if s.subs[viewerID] == nil {
		s.subs[viewerID] = make(map[int]func(models.FeedEvent))
	}
	s.subs[viewerID][id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs[viewerID], id)
		if len(s.subs[viewerID]) == 0 {
			delete(s.subs, viewerID)
		}
	}
}

func (s *EventService) handle(_ context.Context, job jobs.Job) error {
	event, ok := job.Payload.(models.FeedEvent)
	if !ok {
		s.logger.Warn("dropping malformed feed event", zap.String("job_id", job.ID), zap.String("type", job.Type))
		return nil
	}
	s.deliver(event)
	return nil
}

func (s *EventService) deliver(event models.FeedEvent) {
	s.mu.RLock()
	ids := make([]int, 0, len(s.subs[event.ViewerID]))
	for id := range s.subs[event.ViewerID] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(models.FeedEvent), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.subs[event.ViewerID][id])
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(event)
	}
}
