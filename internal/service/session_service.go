package service

import (
	"context"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-classwall/internal/dto"
	"github.com/noah-isme/sma-classwall/internal/feed"
	"github.com/noah-isme/sma-classwall/internal/models"
	appErrors "github.com/noah-isme/sma-classwall/pkg/errors"
)

// Session update kinds.
const (
	UpdateWall       = "wall"
	UpdateThread     = "thread"
	UpdateMembership = "membership"
	UpdateEvent      = "event"
)

const updateBuffer = 16

// SessionUpdate tells a stream consumer what changed. Consumers re-read the session state.
type SessionUpdate struct {
	Kind  string            `json:"kind"`
	Scope string            `json:"scope,omitempty"`
	Event *models.FeedEvent `json:"event,omitempty"`
}

type profileLoader interface {
	Profile(ctx context.Context, userID string) (models.Identity, error)
}

type feedWatcher interface {
	WatchWall(ctx context.Context, limit int, deliver func([]models.Post)) (func(), error)
	WatchThread(ctx context.Context, postID string, deliver func([]models.Comment)) (func(), error)
}

type membershipSource interface {
	Resolve(ctx context.Context, identity models.Identity) (models.MembershipSet, bool)
	Forget(viewerID string)
}

type eventBus interface {
	EventPublisher
	Subscribe(viewerID string, fn func(models.FeedEvent)) func()
}

// SessionDeps are the shared collaborators of every viewer session.
type SessionDeps struct {
	Posts       postRepository
	Comments    commentRepository
	Profiles    profileLoader
	Memberships membershipSource
	Watcher     feedWatcher
	Events      eventBus
	Attachments attachmentValidator
	Metrics     *MetricsService
	Validator   *validator.Validate
	Logger      *zap.Logger
}

// SessionConfig tunes viewer sessions.
type SessionConfig struct {
	SnapshotLimit int
	IdleTTL       time.Duration
	SweepInterval time.Duration
	MaxWarnings   int
}

// Session is everything one signed-in viewer has open: identity, memberships,
// the wall scope, comment threads and live subscriptions.
type Session struct {
	Identity *IdentityContext
	Wall     *FeedService
	Comments *CommentService
	Warnings *SyncWarnings

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	membership models.MembershipSet
	// bumped on every identity change; only the latest resolve may apply
	membershipGen uint64
	lastSeen      time.Time
	nextSub    int
	subs       map[int]chan SessionUpdate
	stops      []func()
	closed     bool
}

// Membership returns the viewer's resolved memberships.
func (s *Session) Membership() models.MembershipSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(models.MembershipSet(nil), s.membership...)
}

// Items returns the wall as the viewer currently sees it.
func (s *Session) Items() []dto.WallItem {
	return s.Wall.Items(s.Membership())
}

// Updates streams change notifications until the returned cancel is called or the session ends.
// Slow consumers miss intermediate updates, never the latest state.
func (s *Session) Updates() (<-chan SessionUpdate, func()) {
	ch := make(chan SessionUpdate, updateBuffer)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.nextSub++
	id := s.nextSub
	s.subs[id] = ch
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}
}

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

func (s *Session) notify(update SessionUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- update:
		default:
		}
	}
}

func (s *Session) nextMembershipGen() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.membershipGen++
	return s.membershipGen
}

// applyMembership stores a resolved set unless a later identity change superseded it.
func (s *Session) applyMembership(gen uint64, resolvedFor models.Identity, set models.MembershipSet) bool {
	if s.Identity.Current() != resolvedFor {
		return false
	}
	s.mu.Lock()
	if s.closed || gen != s.membershipGen {
		s.mu.Unlock()
		return false
	}
	s.membership = set
	s.mu.Unlock()
	s.notify(SessionUpdate{Kind: UpdateMembership})
	return true
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) addStop(stop func()) {
	if stop == nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		stop()
		return
	}
	s.stops = append(s.stops, stop)
	s.mu.Unlock()
}

func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	stops := s.stops
	s.stops = nil
	subs := s.subs
	s.subs = map[int]chan SessionUpdate{}
	s.mu.Unlock()

	for i := len(stops) - 1; i >= 0; i-- {
		stops[i]()
	}
	s.Comments.CloseAll()
	s.Wall.Close()
	s.cancel()
	for _, ch := range subs {
		close(ch)
	}
}

// SessionService keeps one session per signed-in viewer and tears down idle ones.
type SessionService struct {
	deps   SessionDeps
	config SessionConfig
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionService constructs the session registry.
func NewSessionService(deps SessionDeps, config SessionConfig) *SessionService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}
	RegisterFeedValidations(deps.Validator)
	if config.IdleTTL <= 0 {
		config.IdleTTL = 30 * time.Minute
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = time.Minute
	}
	return &SessionService{
		deps:     deps,
		config:   config,
		logger:   deps.Logger,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Acquire returns the viewer's session, opening it on first use. A role different from the
// session's reloads the profile, which recomputes memberships when it changed.
func (s *SessionService) Acquire(ctx context.Context, viewerID string, role models.UserRole) (*Session, error) {
	if viewerID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "no viewer signed in")
	}
	if sess, ok := s.Get(viewerID); ok {
		if role != "" && sess.Identity.Current().Role != role {
			if err := s.Reload(ctx, viewerID); err != nil {
				return nil, err
			}
		}
		return sess, nil
	}

	profile, err := s.deps.Profiles.Profile(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	sess := s.open(ctx, profile)

	s.mu.Lock()
	if existing, ok := s.sessions[viewerID]; ok {
		s.mu.Unlock()
		sess.close()
		existing.touch(s.now())
		return existing, nil
	}
	s.sessions[viewerID] = sess
	count := len(s.sessions)
	s.mu.Unlock()

	s.deps.Metrics.SetActiveSessions(count)
	s.logger.Info("viewer session opened", zap.String("viewer_id", viewerID), zap.String("role", string(profile.Role)))
	return sess, nil
}

// Get returns an open session and marks it as used.
func (s *SessionService) Get(viewerID string) (*Session, bool) {
	s.mu.Lock()
	sess, ok := s.sessions[viewerID]
	s.mu.Unlock()
	if ok {
		sess.touch(s.now())
	}
	return sess, ok
}

// Reload re-reads the viewer's profile into the session identity. A forbidden or
// missing profile ends the session.
func (s *SessionService) Reload(ctx context.Context, viewerID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[viewerID]
	s.mu.Unlock()
	if !ok {
		return appErrors.Clone(appErrors.ErrNotFound, "session not found")
	}
	profile, err := s.deps.Profiles.Profile(ctx, viewerID)
	if err != nil {
		if appErr := appErrors.FromError(err); appErr.Status == appErrors.ErrForbidden.Status || appErr.Status == appErrors.ErrUnauthorized.Status {
			s.Release(viewerID)
		}
		return err
	}
	sess.Identity.Set(profile)
	return nil
}

// Release ends the viewer's session. Completions still in flight are dropped.
func (s *SessionService) Release(viewerID string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[viewerID]
	delete(s.sessions, viewerID)
	count := len(s.sessions)
	s.mu.Unlock()
	if !ok {
		return false
	}
	sess.close()
	if s.deps.Memberships != nil {
		s.deps.Memberships.Forget(viewerID)
	}
	s.deps.Metrics.SetActiveSessions(count)
	s.logger.Info("viewer session closed", zap.String("viewer_id", viewerID))
	return true
}

// Sweep releases sessions idle for longer than the configured TTL and returns how many.
func (s *SessionService) Sweep(now time.Time) int {
	s.mu.Lock()
	idle := make([]string, 0)
	for id, sess := range s.sessions {
		if now.Sub(sess.idleSince()) > s.config.IdleTTL {
			idle = append(idle, id)
		}
	}
	s.mu.Unlock()

	released := 0
	for _, id := range idle {
		if s.Release(id) {
			released++
		}
	}
	return released
}

// Run sweeps idle sessions until ctx is done, then releases every session.
func (s *SessionService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.ReleaseAll()
			return
		case <-ticker.C:
			if n := s.Sweep(s.now()); n > 0 {
				s.logger.Debug("idle viewer sessions released", zap.Int("count", n))
			}
		}
	}
}

// ReleaseAll ends every session.
func (s *SessionService) ReleaseAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.Release(id)
	}
}

// Count returns the number of open sessions.
func (s *SessionService) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *SessionService) open(ctx context.Context, profile models.Identity) *Session {
	sessCtx, cancel := context.WithCancel(context.Background())
	identity := NewIdentityContext()
	identity.Set(profile)

	warnings := NewSyncWarnings(s.config.MaxWarnings)
	var events EventPublisher
	if s.deps.Events != nil {
		events = s.deps.Events
	}
	postStore := feed.NewStore[models.Post]()
	commentStore := feed.NewStore[models.Comment]()

	wall := NewFeedService(s.deps.Posts, postStore, identity, FeedOptions{
		SnapshotLimit: s.config.SnapshotLimit,
		Validator:     s.deps.Validator,
		Logger:        s.logger,
		Metrics:       s.deps.Metrics,
		Events:        events,
		Attachments:   s.deps.Attachments,
		Warnings:      warnings,
	})
	var threadWatcher ThreadWatcher
	if s.deps.Watcher != nil {
		threadWatcher = s.deps.Watcher.WatchThread
	}
	comments := NewCommentService(s.deps.Comments, commentStore, wall, identity, CommentOptions{
		Validator: s.deps.Validator,
		Logger:    s.logger,
		Metrics:   s.deps.Metrics,
		Events:    events,
		Warnings:  warnings,
		Watcher:   threadWatcher,
	})

	sess := &Session{
		Identity: identity,
		Wall:     wall,
		Comments: comments,
		Warnings: warnings,
		ctx:      sessCtx,
		cancel:   cancel,
		lastSeen: s.now(),
		subs:     make(map[int]chan SessionUpdate),
	}

	scope := wall.Open()
	postStore.OnChange(func(changed feed.Scope) {
		sess.notify(SessionUpdate{Kind: UpdateWall, Scope: changed.Name()})
	})
	commentStore.OnChange(func(changed feed.Scope) {
		sess.notify(SessionUpdate{Kind: UpdateThread, Scope: changed.Name()})
	})

	if s.deps.Memberships != nil {
		if set, current := s.deps.Memberships.Resolve(ctx, profile); current {
			sess.membership = set
		}
		sess.addStop(identity.Subscribe(func(prev, next models.Identity) {
			if !MembershipChanged(prev, next) {
				return
			}
			gen := sess.nextMembershipGen()
			go func() {
				set, current := s.deps.Memberships.Resolve(sessCtx, next)
				if !current || sessCtx.Err() != nil {
					return
				}
				if !sess.applyMembership(gen, next, set) {
					s.logger.Debug("stale membership result discarded",
						zap.String("viewer_id", next.ID),
						zap.String("role", string(next.Role)),
					)
				}
			}()
		}))
	}

	if s.deps.Events != nil {
		sess.addStop(s.deps.Events.Subscribe(profile.ID, func(event models.FeedEvent) {
			e := event
			sess.notify(SessionUpdate{Kind: UpdateEvent, Event: &e})
		}))
	}

	s.startWall(ctx, sess, scope)
	return sess
}

func (s *SessionService) startWall(ctx context.Context, sess *Session, scope feed.Scope) {
	if s.deps.Watcher != nil {
		stop, err := s.deps.Watcher.WatchWall(sess.ctx, s.config.SnapshotLimit, func(posts []models.Post) {
			sess.Wall.ApplySnapshot(scope, posts)
		})
		if err == nil {
			sess.addStop(stop)
			return
		}
		s.logger.Warn("wall live query unavailable, loading once", zap.Error(err))
	}
	if err := sess.Wall.Refresh(ctx); err != nil {
		s.logger.Warn("initial wall load failed", zap.String("viewer_id", sess.Identity.Current().ID), zap.Error(err))
	}
}
