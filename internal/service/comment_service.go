package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-classwall/internal/dto"
	"github.com/noah-isme/sma-classwall/internal/feed"
	"github.com/noah-isme/sma-classwall/internal/models"
	appErrors "github.com/noah-isme/sma-classwall/pkg/errors"
)

const (
	threadScopePrefix = "thread:"
	kindComment       = "comment"
)

type commentRepository interface {
	ListByPost(ctx context.Context, postID string) ([]models.Comment, error)
	Create(ctx context.Context, comment *models.Comment) (int, error)
}

// wallCounter is the wall side of a comment thread: targeted comment count updates.
type wallCounter interface {
	BumpComments(postID string) bool
	SetCommentCount(postID string, count int) bool
	DropPost(postID string) bool
}

// ThreadWatcher starts a live query on a post's comments and returns its stop function.
type ThreadWatcher func(ctx context.Context, postID string, deliver func([]models.Comment)) (func(), error)

// CommentOptions carries the optional collaborators of a comment controller.
type CommentOptions struct {
	Validator *validator.Validate
	Logger    *zap.Logger
	Metrics   *MetricsService
	Events    EventPublisher
	Warnings  *SyncWarnings
	Watcher   ThreadWatcher
}

type thread struct {
	scope feed.Scope
	stop  func()
}

// CommentService owns the comment thread scopes a viewer has open.
type CommentService struct {
	repo      commentRepository
	store     *feed.Store[models.Comment]
	wall      wallCounter
	identity  *IdentityContext
	validator *validator.Validate
	logger    *zap.Logger
	metrics   *MetricsService
	watcher   ThreadWatcher
	reporter  *syncReporter

	mu      sync.Mutex
	threads map[string]thread
}

// NewCommentService builds a comment controller.
func NewCommentService(repo commentRepository, store *feed.Store[models.Comment], wall wallCounter, identity *IdentityContext, opts CommentOptions) *CommentService {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Validator == nil {
		opts.Validator = validator.New()
	}
	return &CommentService{
		repo:      repo,
		store:     store,
		wall:      wall,
		identity:  identity,
		validator: opts.Validator,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		watcher:   opts.Watcher,
		reporter:  &syncReporter{logger: opts.Logger, metrics: opts.Metrics, warnings: opts.Warnings, events: opts.Events},
		threads:   make(map[string]thread),
	}
}

// OpenThread opens the post's comment scope and loads it. Reopening an open thread keeps it.
// The live query, when configured, runs under ctx until the thread is closed.
func (s *CommentService) OpenThread(ctx context.Context, postID string) (feed.Scope, error) {
	if strings.TrimSpace(postID) == "" {
		return feed.Scope{}, appErrors.Clone(appErrors.ErrValidation, "post id is required")
	}
	s.mu.Lock()
	if t, ok := s.threads[postID]; ok && s.store.Active(t.scope) {
		s.mu.Unlock()
		return t.scope, nil
	}
	scope := s.store.Open(threadScopePrefix + postID)
	s.threads[postID] = thread{scope: scope}
	s.mu.Unlock()

	if s.watcher != nil {
		stop, err := s.watcher(ctx, postID, func(comments []models.Comment) {
			s.ApplySnapshot(scope, postID, comments)
		})
		if err == nil {
			s.setStop(postID, scope, stop)
			return scope, nil
		}
		s.logger.Warn("comment live query unavailable, loading once", zap.String("post_id", postID), zap.Error(err))
	}

	comments, err := s.repo.ListByPost(ctx, postID)
	if err != nil {
		return scope, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load comments")
	}
	s.ApplySnapshot(scope, postID, comments)
	return scope, nil
}

// CloseThread discards the post's comment scope. In-flight completions for it are dropped.
func (s *CommentService) CloseThread(postID string) {
	s.mu.Lock()
	t, ok := s.threads[postID]
	delete(s.threads, postID)
	s.mu.Unlock()
	if !ok {
		return
	}
	if t.stop != nil {
		t.stop()
	}
	s.store.Close(t.scope)
}

// CloseAll closes every open thread.
func (s *CommentService) CloseAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.threads))
	for id := range s.threads {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.CloseThread(id)
	}
}

// Thread returns the open thread of a post, newest first. ok is false when the thread is closed.
func (s *CommentService) Thread(postID string) ([]dto.CommentItem, bool) {
	scope, ok := s.scopeOf(postID)
	if !ok {
		return nil, false
	}
	entries := s.store.Items(scope)
	items := make([]dto.CommentItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, dto.CommentItem{ID: e.ID.String(), Pending: e.Pending(), Comment: e.Item})
	}
	return items, true
}

// ApplySnapshot merges a server thread and writes its length to the wall's comment count.
func (s *CommentService) ApplySnapshot(scope feed.Scope, postID string, comments []models.Comment) bool {
	if !s.store.ReplaceSnapshot(scope, comments) {
		return false
	}
	s.metrics.RecordSnapshotMerge(kindComment, len(comments))
	if s.wall != nil {
		s.wall.SetCommentCount(postID, len(comments))
	}
	return true
}

// Add appends the comment optimistically to the open thread and bumps the wall count,
// then persists it. The server count replaces the optimistic one.
func (s *CommentService) Add(ctx context.Context, postID string, req dto.AddCommentRequest) (*dto.MutationResult, error) {
	viewer := s.identity.Current()
	if viewer.IsZero() {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "no viewer signed in")
	}
	if feed.ParseItemID(postID).Pending() {
		return nil, errStillSaving()
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid comment payload")
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "comment message is required")
	}

	draft := models.Comment{
		PostID:   postID,
		AuthorID: viewer.ID,
		Author:   viewer.DisplayName,
		Role:     viewer.Role,
		Message:  req.Message,
	}

	scope, open := s.scopeOf(postID)
	var localID feed.ItemID
	if open {
		if id, ok := s.store.InsertOptimistic(scope, draft); ok {
			localID = id
			s.metrics.RecordOptimisticInsert(kindComment)
		}
	}
	if s.wall != nil {
		s.wall.BumpComments(postID)
	}

	persisted := draft
	if !localID.IsZero() {
		persisted.ClientRef = localID.Value()
	}
	count, err := s.repo.Create(ctx, &persisted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if !localID.IsZero() {
				s.store.Remove(scope, localID)
			}
			if s.wall != nil {
				s.wall.DropPost(postID)
			}
			return nil, appErrors.Clone(appErrors.ErrNotFound, "post not found")
		}
		warning := s.reporter.report(viewer.ID, "comment", postID, err)
		return &dto.MutationResult{ID: localID.String(), LocalID: localID.String(), Item: draft, Warning: warning}, nil
	}

	result := &dto.MutationResult{ID: persisted.ID, LocalID: localID.String(), Item: persisted}
	if !localID.IsZero() {
		outcome := s.store.Reconcile(scope, localID, persisted)
		s.metrics.RecordReconcile(kindComment, outcome.String())
		result.Outcome = outcome.String()
	}
	if s.wall != nil {
		s.wall.SetCommentCount(postID, count)
	}
	return result, nil
}

func (s *CommentService) scopeOf(postID string) (feed.Scope, bool) {
	s.mu.Lock()
	t, ok := s.threads[postID]
	s.mu.Unlock()
	if !ok || !s.store.Active(t.scope) {
		return feed.Scope{}, false
	}
	return t.scope, true
}

func (s *CommentService) setStop(postID string, scope feed.Scope, stop func()) {
	s.mu.Lock()
	t, ok := s.threads[postID]
	if ok && t.scope == scope {
		t.stop = stop
		s.threads[postID] = t
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	// the thread was closed while the watch started
	stop()
}
