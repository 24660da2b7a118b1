package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-classwall/internal/models"
)

type membershipRepository interface {
	ListCreated(ctx context.Context, userID string) ([]models.Membership, error)
	ListEnrolled(ctx context.Context, userID string) ([]models.Membership, error)
}

type resolveCall struct {
	cancel context.CancelFunc
}

// MembershipResolver derives the classes and sections a viewer belongs to.
// Lookups fail soft: errors yield an empty set. A newer call for the same viewer
// cancels the older one, whose result is discarded.
type MembershipResolver struct {
	repo    membershipRepository
	cache   *CacheService
	ttl     time.Duration
	metrics *MetricsService
	logger  *zap.Logger

	mu       sync.Mutex
	inflight map[string]*resolveCall
	roles    map[string]models.UserRole
}

// NewMembershipResolver constructs the resolver. cache and metrics may be nil.
func NewMembershipResolver(repo membershipRepository, cacheSvc *CacheService, ttl time.Duration, metrics *MetricsService, logger *zap.Logger) *MembershipResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MembershipResolver{
		repo:     repo,
		cache:    cacheSvc,
		ttl:      ttl,
		metrics:  metrics,
		logger:   logger,
		inflight: make(map[string]*resolveCall),
		roles:    make(map[string]models.UserRole),
	}
}

// Resolve returns the viewer's memberships. current is false when a newer call for the
// same viewer superseded this one; the returned set is then empty and must not be applied.
func (r *MembershipResolver) Resolve(ctx context.Context, identity models.Identity) (set models.MembershipSet, current bool) {
	if identity.IsZero() {
		return models.MembershipSet{}, true
	}

	callCtx, cancel := context.WithCancel(ctx)
	call := &resolveCall{cancel: cancel}

	r.mu.Lock()
	if prev, ok := r.inflight[identity.ID]; ok {
		prev.cancel()
	}
	r.inflight[identity.ID] = call
	lastRole, seen := r.roles[identity.ID]
	r.roles[identity.ID] = identity.Role
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		if r.inflight[identity.ID] == call {
			delete(r.inflight, identity.ID)
		}
		r.mu.Unlock()
		cancel()
	}()

	if seen && lastRole != identity.Role {
		_ = r.cache.ForgetMemberships(callCtx, identity.ID)
	}

	if cached, hit := r.cache.Memberships(callCtx, identity); hit {
		if !r.isCurrent(identity.ID, call) {
			return r.superseded(identity)
		}
		r.metrics.RecordMembershipResolution("cached")
		return cached, true
	}

	items, err := r.lookup(callCtx, identity)
	if !r.isCurrent(identity.ID, call) {
		return r.superseded(identity)
	}
	if err != nil {
		r.metrics.RecordMembershipResolution("failed")
		r.logger.Warn("membership lookup failed",
			zap.String("viewer_id", identity.ID),
			zap.String("role", string(identity.Role)),
			zap.Error(err),
		)
		return models.MembershipSet{}, true
	}

	set = models.NewMembershipSet(items)
	_ = r.cache.StoreMemberships(callCtx, identity, set, r.ttl)
	r.metrics.RecordMembershipResolution("resolved")
	return set, true
}

// Invalidate drops every cached membership set of the viewer.
func (r *MembershipResolver) Invalidate(ctx context.Context, viewerID string) error {
	return r.cache.ForgetMemberships(ctx, viewerID)
}

// Forget releases per-viewer bookkeeping, cancelling any in-flight lookup.
func (r *MembershipResolver) Forget(viewerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if call, ok := r.inflight[viewerID]; ok {
		call.cancel()
		delete(r.inflight, viewerID)
	}
	delete(r.roles, viewerID)
}

func (r *MembershipResolver) lookup(ctx context.Context, identity models.Identity) ([]models.Membership, error) {
	switch identity.Role {
	case models.RoleInstructor:
		return r.repo.ListCreated(ctx, identity.ID)
	case models.RoleStudent:
		return r.repo.ListEnrolled(ctx, identity.ID)
	default:
		return nil, nil
	}
}

func (r *MembershipResolver) isCurrent(viewerID string, call *resolveCall) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inflight[viewerID] == call
}

func (r *MembershipResolver) superseded(identity models.Identity) (models.MembershipSet, bool) {
	r.metrics.RecordMembershipResolution("superseded")
	r.logger.Debug("membership lookup superseded", zap.String("viewer_id", identity.ID))
	return models.MembershipSet{}, false
}
