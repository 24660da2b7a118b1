package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-classwall/internal/dto"
	"github.com/noah-isme/sma-classwall/internal/feed"
	"github.com/noah-isme/sma-classwall/internal/models"
	appErrors "github.com/noah-isme/sma-classwall/pkg/errors"
)

const (
	wallScopeName = "wall"
	kindPost      = "post"
)

type postRepository interface {
	ListWall(ctx context.Context, limit int) ([]models.Post, error)
	FindByID(ctx context.Context, id string) (*models.Post, error)
	Create(ctx context.Context, post *models.Post) error
	Update(ctx context.Context, post *models.Post) (bool, error)
	Delete(ctx context.Context, id string) error
	SetLike(ctx context.Context, postID, userID string, liked bool) (pq.StringArray, error)
}

type attachmentValidator interface {
	Validate(image *models.Attachment, files []models.Attachment) error
}

// FeedOptions carries the optional collaborators of a wall controller.
type FeedOptions struct {
	SnapshotLimit int
	Validator     *validator.Validate
	Logger        *zap.Logger
	Metrics       *MetricsService
	Events        EventPublisher
	Attachments   attachmentValidator
	Warnings      *SyncWarnings
}

// FeedService owns one viewer's wall scope. Every mutation is applied to the store first
// and then persisted; backend failures leave the local change in place and yield a sync warning.
type FeedService struct {
	repo        postRepository
	store       *feed.Store[models.Post]
	identity    *IdentityContext
	validator   *validator.Validate
	logger      *zap.Logger
	metrics     *MetricsService
	events      EventPublisher
	attachments attachmentValidator
	reporter    *syncReporter
	limit       int

	mu    sync.RWMutex
	scope feed.Scope
}

// NewFeedService builds a wall controller. Call Open before use.
func NewFeedService(repo postRepository, store *feed.Store[models.Post], identity *IdentityContext, opts FeedOptions) *FeedService {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Validator == nil {
		opts.Validator = validator.New()
		RegisterFeedValidations(opts.Validator)
	}
	if opts.SnapshotLimit <= 0 {
		opts.SnapshotLimit = 200
	}
	return &FeedService{
		repo:        repo,
		store:       store,
		identity:    identity,
		validator:   opts.Validator,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		events:      opts.Events,
		attachments: opts.Attachments,
		reporter:    &syncReporter{logger: opts.Logger, metrics: opts.Metrics, warnings: opts.Warnings, events: opts.Events},
		limit:       opts.SnapshotLimit,
	}
}

// RegisterFeedValidations adds the "audience" rule to the validator. Call it before the
// validator is shared.
func RegisterFeedValidations(v *validator.Validate) {
	_ = v.RegisterValidation("audience", func(fl validator.FieldLevel) bool {
		switch models.Audience(fl.Field().String()) {
		case models.AudienceWorld, models.AudienceClass, models.AudienceOnlyMe:
			return true
		}
		return false
	})
}

// Open starts a fresh wall scope, superseding the previous one.
func (s *FeedService) Open() feed.Scope {
	scope := s.store.Open(wallScopeName)
	s.mu.Lock()
	s.scope = scope
	s.mu.Unlock()
	return scope
}

// Close discards the wall scope; completions still in flight are dropped.
func (s *FeedService) Close() {
	s.store.Close(s.Scope())
}

// Scope returns the current wall scope handle.
func (s *FeedService) Scope() feed.Scope {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scope
}

// Refresh loads a full snapshot and merges it.
func (s *FeedService) Refresh(ctx context.Context) error {
	scope := s.Scope()
	start := time.Now()
	posts, err := s.repo.ListWall(ctx, s.limit)
	s.metrics.ObserveDBQuery("wall_snapshot", time.Since(start))
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load wall")
	}
	s.ApplySnapshot(scope, posts)
	return nil
}

// ApplySnapshot merges a server result set into the scope. It reports false for a stale scope.
func (s *FeedService) ApplySnapshot(scope feed.Scope, posts []models.Post) bool {
	normalized := make([]models.Post, len(posts))
	for i, p := range posts {
		normalized[i] = p.Normalize()
	}
	if !s.store.ReplaceSnapshot(scope, normalized) {
		return false
	}
	s.metrics.RecordSnapshotMerge(kindPost, len(posts))
	return true
}

// Items returns the entries visible to the current viewer, in wall order.
func (s *FeedService) Items(membership models.MembershipSet) []dto.WallItem {
	viewer := s.identity.Current()
	entries := feed.FilterVisible(s.store.Items(s.Scope()), viewer, membership)
	items := make([]dto.WallItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, toWallItem(e, viewer.ID))
	}
	return items
}

// Get returns the wall entry, resolving placeholder ids that were already reconciled.
func (s *FeedService) Get(id feed.ItemID) (feed.Entry[models.Post], bool) {
	return s.store.Get(s.Scope(), id)
}

// Create inserts the draft optimistically, persists it and reconciles the placeholder.
func (s *FeedService) Create(ctx context.Context, req dto.CreatePostRequest) (*dto.MutationResult, error) {
	viewer, err := s.viewer()
	if err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid post payload")
	}
	if req.IsAnnouncement && viewer.Role != models.RoleInstructor {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only instructors can post announcements")
	}

	draft := models.Post{
		AuthorID:         viewer.ID,
		Author:           viewer.DisplayName,
		Role:             viewer.Role,
		Message:          req.Message,
		Audience:         req.Audience,
		SelectedSections: models.SectionRefs(req.SelectedSections),
		LikedBy:          pq.StringArray{},
		Image:            req.Image,
		Files:            models.Attachments(req.Files),
		IsAnnouncement:   req.IsAnnouncement,
	}
	normalizeAudience(&draft)
	if err := s.validatePost(draft); err != nil {
		return nil, err
	}

	scope := s.Scope()
	localID, ok := s.store.InsertOptimistic(scope, draft)
	if !ok {
		return nil, errWallClosed()
	}
	s.metrics.RecordOptimisticInsert(kindPost)

	persisted := draft
	persisted.ClientRef = localID.Value()
	if err := s.repo.Create(ctx, &persisted); err != nil {
		warning := s.reporter.report(viewer.ID, "create", localID.String(), err)
		return &dto.MutationResult{ID: localID.String(), LocalID: localID.String(), Item: draft, Warning: warning}, nil
	}

	confirmed := persisted.Normalize()
	outcome := s.store.Reconcile(scope, localID, confirmed)
	s.metrics.RecordReconcile(kindPost, outcome.String())
	switch outcome {
	case feed.Evicted:
		if err := s.repo.Delete(ctx, confirmed.ID); err != nil {
			s.reporter.report(viewer.ID, "delete", confirmed.ID, err)
		}
	case feed.Reconciled, feed.AlreadyMerged:
		s.publish(models.EventPostCreated, viewer.ID, confirmed.ID)
	}
	return &dto.MutationResult{ID: confirmed.ID, LocalID: localID.String(), Outcome: outcome.String(), Item: confirmed}, nil
}

// Edit applies the changed fields locally, then persists them. Only the author or an instructor may edit.
func (s *FeedService) Edit(ctx context.Context, id feed.ItemID, req dto.EditPostRequest) (*dto.MutationResult, error) {
	viewer, err := s.viewer()
	if err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid post payload")
	}

	scope := s.Scope()
	entry, ok := s.store.Get(scope, id)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "post not found")
	}
	if err := authorizePostChange(viewer, entry.Item); err != nil {
		return nil, err
	}
	if entry.Pending() {
		return nil, errStillSaving()
	}

	updated := applyEdit(entry.Item, req)
	if err := s.validatePost(updated); err != nil {
		return nil, err
	}
	s.store.Update(scope, entry.ID, func(p *models.Post) { copyEditable(p, updated) })

	persisted := updated
	found, err := s.repo.Update(ctx, &persisted)
	if err != nil {
		warning := s.reporter.report(viewer.ID, "edit", entry.ID.String(), err)
		return &dto.MutationResult{ID: entry.ID.String(), Item: updated, Warning: warning}, nil
	}
	if !found {
		s.logger.Debug("edited post no longer exists", zap.String("post_id", entry.ID.Value()))
		return &dto.MutationResult{ID: entry.ID.String(), Item: updated}, nil
	}
	s.store.Update(scope, entry.ID, func(p *models.Post) { p.UpdatedAt = persisted.UpdatedAt })
	return &dto.MutationResult{ID: entry.ID.String(), Item: persisted}, nil
}

// Delete removes the post locally, then from the backend. Absent posts are a no-op.
func (s *FeedService) Delete(ctx context.Context, id feed.ItemID) (*dto.MutationResult, error) {
	viewer, err := s.viewer()
	if err != nil {
		return nil, err
	}

	scope := s.Scope()
	entry, ok := s.store.Get(scope, id)
	if !ok {
		return &dto.MutationResult{ID: id.String()}, nil
	}
	if err := authorizePostChange(viewer, entry.Item); err != nil {
		return nil, err
	}

	s.store.Remove(scope, entry.ID)
	if entry.Pending() {
		// the create still in flight sees the placeholder gone and deletes its server copy
		return &dto.MutationResult{ID: entry.ID.String()}, nil
	}
	if err := s.repo.Delete(ctx, entry.ID.Value()); err != nil {
		warning := s.reporter.report(viewer.ID, "delete", entry.ID.String(), err)
		return &dto.MutationResult{ID: entry.ID.String(), Warning: warning}, nil
	}
	s.publish(models.EventPostDeleted, viewer.ID, entry.ID.Value())
	return &dto.MutationResult{ID: entry.ID.String()}, nil
}

// ToggleLike flips the viewer's like locally and writes the resulting state to the backend.
// The server's likedBy then replaces the local set.
func (s *FeedService) ToggleLike(ctx context.Context, id feed.ItemID) (*dto.LikeResult, error) {
	viewer, err := s.viewer()
	if err != nil {
		return nil, err
	}

	scope := s.Scope()
	entry, ok := s.store.Get(scope, id)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "post not found")
	}
	if entry.Pending() {
		return nil, errStillSaving()
	}

	state := feed.ToggleLike(entry.Item, viewer.ID)
	s.store.Update(scope, entry.ID, func(p *models.Post) { feed.ApplyLike(p, state) })

	likedBy, err := s.repo.SetLike(ctx, entry.ID.Value(), viewer.ID, state.Liked)
	if err != nil {
		result := likeResult(entry.ID.Value(), state)
		if errors.Is(err, sql.ErrNoRows) {
			return result, nil
		}
		result.Warning = s.reporter.report(viewer.ID, "like", entry.ID.String(), err)
		return result, nil
	}

	confirmed := feed.StateOf(models.Post{LikedBy: likedBy}, viewer.ID)
	s.store.Update(scope, entry.ID, func(p *models.Post) { feed.ApplyLike(p, confirmed) })
	return likeResult(entry.ID.Value(), confirmed), nil
}

// BumpComments adds one to the post's comment count ahead of server confirmation.
func (s *FeedService) BumpComments(postID string) bool {
	return s.store.Update(s.Scope(), feed.ConfirmedID(postID), func(p *models.Post) {
		*p = feed.AddComment(*p)
	})
}

// SetCommentCount writes the server-confirmed comment count.
func (s *FeedService) SetCommentCount(postID string, count int) bool {
	if count < 0 {
		count = 0
	}
	return s.store.Update(s.Scope(), feed.ConfirmedID(postID), func(p *models.Post) {
		p.Comments = count
	})
}

// DropPost removes a post the server no longer has.
func (s *FeedService) DropPost(postID string) bool {
	return s.store.Remove(s.Scope(), feed.ConfirmedID(postID))
}

func (s *FeedService) viewer() (models.Identity, error) {
	viewer := s.identity.Current()
	if viewer.IsZero() {
		return viewer, appErrors.Clone(appErrors.ErrUnauthorized, "no viewer signed in")
	}
	return viewer, nil
}

func (s *FeedService) validatePost(p models.Post) error {
	if strings.TrimSpace(p.Message) == "" && !p.HasAttachments() {
		return appErrors.Clone(appErrors.ErrValidation, "a post needs a message or an attachment")
	}
	if p.Audience == models.AudienceClass && len(p.SelectedSections) == 0 {
		return appErrors.Clone(appErrors.ErrValidation, "class posts must target at least one section")
	}
	if s.attachments != nil {
		if err := s.attachments.Validate(p.Image, p.Files); err != nil {
			return err
		}
	}
	return nil
}

func (s *FeedService) publish(eventType models.FeedEventType, viewerID, postID string) {
	if s.events == nil {
		return
	}
	s.events.Publish(models.FeedEvent{Type: eventType, ViewerID: viewerID, PostID: postID})
}

func authorizePostChange(viewer models.Identity, post models.Post) error {
	if post.AuthorID == viewer.ID || viewer.Role == models.RoleInstructor {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "only the author or an instructor can change this post")
}

func normalizeAudience(p *models.Post) {
	if p.Audience == "" {
		p.Audience = models.AudienceWorld
	}
	if p.Audience != models.AudienceClass {
		p.SelectedSections = nil
	}
}

func applyEdit(p models.Post, req dto.EditPostRequest) models.Post {
	if req.Message != nil {
		p.Message = *req.Message
	}
	if req.Audience != nil {
		p.Audience = *req.Audience
	}
	if req.SelectedSections != nil {
		p.SelectedSections = models.SectionRefs(*req.SelectedSections)
	}
	if req.RemoveImage {
		p.Image = nil
	} else if req.Image != nil {
		p.Image = req.Image
	}
	if req.Files != nil {
		p.Files = models.Attachments(*req.Files)
	}
	normalizeAudience(&p)
	return p
}

func copyEditable(dst *models.Post, src models.Post) {
	dst.Message = src.Message
	dst.Audience = src.Audience
	dst.SelectedSections = src.SelectedSections
	dst.Image = src.Image
	dst.Files = src.Files
}

func toWallItem(e feed.Entry[models.Post], viewerID string) dto.WallItem {
	return dto.WallItem{
		ID:      e.ID.String(),
		Pending: e.Pending(),
		Liked:   e.Item.LikedByViewer(viewerID),
		Post:    e.Item,
	}
}

func likeResult(postID string, state feed.LikeState) *dto.LikeResult {
	likedBy := []string(state.LikedBy)
	if likedBy == nil {
		likedBy = []string{}
	}
	return &dto.LikeResult{PostID: postID, Likes: state.Likes, LikedBy: likedBy, Liked: state.Liked}
}

func errWallClosed() error {
	return appErrors.Clone(appErrors.ErrNotFound, "wall is not open")
}

func errStillSaving() error {
	return appErrors.Clone(appErrors.ErrPendingItem, "post is still being saved")
}
