package service

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-classwall/internal/models"
	appErrors "github.com/noah-isme/sma-classwall/pkg/errors"
)

// SyncWarnings keeps the most recent sync warnings of a viewer until they are drained.
type SyncWarnings struct {
	mu    sync.Mutex
	max   int
	items []models.SyncWarning
}

// NewSyncWarnings bounds the buffer to max entries, dropping the oldest.
func NewSyncWarnings(max int) *SyncWarnings {
	if max <= 0 {
		max = 50
	}
	return &SyncWarnings{max: max}
}

// Add records a warning.
func (w *SyncWarnings) Add(warning models.SyncWarning) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.items = append(w.items, warning)
	if over := len(w.items) - w.max; over > 0 {
		w.items = append([]models.SyncWarning(nil), w.items[over:]...)
	}
}

// Drain returns and clears the buffered warnings, oldest first.
func (w *SyncWarnings) Drain() []models.SyncWarning {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.items
	w.items = nil
	if out == nil {
		out = []models.SyncWarning{}
	}
	return out
}

// Len returns the number of buffered warnings.
func (w *SyncWarnings) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.items)
}

// syncReporter turns a failed backend call into a non-fatal warning: logged, counted,
// buffered for the viewer and published on the event bus.
type syncReporter struct {
	logger   *zap.Logger
	metrics  *MetricsService
	warnings *SyncWarnings
	events   EventPublisher
}

func (r *syncReporter) report(viewerID, operation, itemID string, err error) *models.SyncWarning {
	warning := models.SyncWarning{
		ID:        uuid.NewString(),
		Operation: operation,
		ItemID:    itemID,
		Message:   appErrors.ErrSyncWarning.Message,
		At:        time.Now().UTC(),
	}
	if r == nil {
		return &warning
	}
	if r.logger != nil {
		r.logger.Warn("sync failed, keeping local change",
			zap.String("viewer_id", viewerID),
			zap.String("operation", operation),
			zap.String("item_id", itemID),
			zap.Error(err),
		)
	}
	r.metrics.RecordSyncWarning(operation)
	if r.warnings != nil {
		r.warnings.Add(warning)
	}
	if r.events != nil {
		r.events.Publish(models.FeedEvent{
			Type:     models.EventSyncWarning,
			ViewerID: viewerID,
			PostID:   itemID,
			Message:  operation + ": " + warning.Message,
		})
	}
	return &warning
}
