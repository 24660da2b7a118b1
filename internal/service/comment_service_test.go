package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-classwall/internal/dto"
	"github.com/noah-isme/sma-classwall/internal/feed"
	"github.com/noah-isme/sma-classwall/internal/models"
	appErrors "github.com/noah-isme/sma-classwall/pkg/errors"
)

type mockCommentRepo struct {
	mu           sync.Mutex
	threads      map[string][]models.Comment
	nextID       int
	listErr      error
	createErr    error
	beforeCreate func()
}

func newMockCommentRepo() *mockCommentRepo {
	return &mockCommentRepo{threads: make(map[string][]models.Comment)}
}

func (m *mockCommentRepo) ListByPost(ctx context.Context, postID string) ([]models.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]models.Comment(nil), m.threads[postID]...), nil
}

func (m *mockCommentRepo) Create(ctx context.Context, comment *models.Comment) (int, error) {
	if m.beforeCreate != nil {
		m.beforeCreate()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return 0, m.createErr
	}
	m.nextID++
	comment.ID = fmt.Sprintf("c-%d", m.nextID)
	comment.CreatedAt = feedEpoch.Add(time.Duration(m.nextID) * time.Hour)
	m.threads[comment.PostID] = append(m.threads[comment.PostID], *comment)
	return len(m.threads[comment.PostID]), nil
}

type wallCall struct {
	op     string
	postID string
	count  int
}

type mockWallCounter struct {
	mu    sync.Mutex
	calls []wallCall
}

func (m *mockWallCounter) BumpComments(postID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, wallCall{op: "bump", postID: postID})
	return true
}

func (m *mockWallCounter) SetCommentCount(postID string, count int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, wallCall{op: "set", postID: postID, count: count})
	return true
}

func (m *mockWallCounter) DropPost(postID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, wallCall{op: "drop", postID: postID})
	return true
}

func threadComment(id, postID string, minute int) models.Comment {
	return models.Comment{
		ID:        id,
		PostID:    postID,
		AuthorID:  "u2",
		Author:    "Budi",
		Role:      models.RoleStudent,
		Message:   "comment " + id,
		CreatedAt: feedEpoch.Add(time.Duration(minute) * time.Minute),
	}
}

func newCommentFixture(t *testing.T, repo *mockCommentRepo, opts CommentOptions) (*CommentService, *mockWallCounter, *SyncWarnings) {
	t.Helper()
	identity := NewIdentityContext()
	identity.Set(studentViewer)
	wall := &mockWallCounter{}
	warnings := NewSyncWarnings(10)
	opts.Warnings = warnings
	svc := NewCommentService(repo, feed.NewStore[models.Comment](), wall, identity, opts)
	return svc, wall, warnings
}

func threadIDs(items []dto.CommentItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func TestCommentServiceOpenThreadLoadsNewestFirst(t *testing.T) {
	repo := newMockCommentRepo()
	repo.threads["p1"] = []models.Comment{threadComment("c-a", "p1", 1), threadComment("c-b", "p1", 2)}
	svc, wall, _ := newCommentFixture(t, repo, CommentOptions{})

	_, err := svc.OpenThread(context.Background(), "p1")
	require.NoError(t, err)

	items, ok := svc.Thread("p1")
	require.True(t, ok)
	assert.Equal(t, []string{"c-b", "c-a"}, threadIDs(items))
	assert.Equal(t, []wallCall{{op: "set", postID: "p1", count: 2}}, wall.calls)
}

func TestCommentServiceAddReconcilesIntoOpenThread(t *testing.T) {
	repo := newMockCommentRepo()
	repo.threads["p1"] = []models.Comment{threadComment("c-a", "p1", 1)}
	svc, wall, _ := newCommentFixture(t, repo, CommentOptions{})
	_, err := svc.OpenThread(context.Background(), "p1")
	require.NoError(t, err)

	res, err := svc.Add(context.Background(), "p1", dto.AddCommentRequest{Message: "nice"})
	require.NoError(t, err)
	assert.Equal(t, "c-1", res.ID)
	assert.Equal(t, feed.Reconciled.String(), res.Outcome)

	items, _ := svc.Thread("p1")
	assert.Equal(t, []string{"c-1", "c-a"}, threadIDs(items))
	assert.False(t, items[0].Pending)
	assert.Equal(t, []wallCall{
		{op: "set", postID: "p1", count: 1},
		{op: "bump", postID: "p1"},
		{op: "set", postID: "p1", count: 2},
	}, wall.calls)
}

func TestCommentServiceAddWithoutOpenThreadOnlyTouchesCount(t *testing.T) {
	svc, wall, _ := newCommentFixture(t, newMockCommentRepo(), CommentOptions{})

	res, err := svc.Add(context.Background(), "p1", dto.AddCommentRequest{Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "c-1", res.ID)
	assert.Empty(t, res.Outcome)
	_, ok := svc.Thread("p1")
	assert.False(t, ok)
	assert.Equal(t, []wallCall{{op: "bump", postID: "p1"}, {op: "set", postID: "p1", count: 1}}, wall.calls)
}

func TestCommentServiceAddFailureKeepsPendingComment(t *testing.T) {
	repo := newMockCommentRepo()
	repo.createErr = errors.New("permission denied")
	svc, _, warnings := newCommentFixture(t, repo, CommentOptions{})
	_, err := svc.OpenThread(context.Background(), "p1")
	require.NoError(t, err)

	res, err := svc.Add(context.Background(), "p1", dto.AddCommentRequest{Message: "later"})
	require.NoError(t, err)
	require.NotNil(t, res.Warning)
	assert.Equal(t, "comment", res.Warning.Operation)

	items, _ := svc.Thread("p1")
	require.Len(t, items, 1)
	assert.True(t, items[0].Pending)
	assert.Equal(t, 1, warnings.Len())
}

func TestCommentServiceAddOnDeletedPost(t *testing.T) {
	repo := newMockCommentRepo()
	repo.createErr = fmt.Errorf("create comment on p1: %w", sql.ErrNoRows)
	svc, wall, warnings := newCommentFixture(t, repo, CommentOptions{})
	_, err := svc.OpenThread(context.Background(), "p1")
	require.NoError(t, err)

	_, err = svc.Add(context.Background(), "p1", dto.AddCommentRequest{Message: "too late"})
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	items, _ := svc.Thread("p1")
	assert.Empty(t, items)
	assert.Zero(t, warnings.Len())
	assert.Equal(t, []wallCall{{op: "bump", postID: "p1"}, {op: "drop", postID: "p1"}}, wall.calls)
}

func TestCommentServiceAddValidation(t *testing.T) {
	svc, wall, _ := newCommentFixture(t, newMockCommentRepo(), CommentOptions{})

	_, err := svc.Add(context.Background(), "p1", dto.AddCommentRequest{Message: "   "})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.Add(context.Background(), feed.LocalPrefix+"tmp", dto.AddCommentRequest{Message: "hi"})
	assert.ErrorIs(t, err, appErrors.ErrPendingItem)
	assert.Empty(t, wall.calls)
}

func TestCommentServiceClosedThreadDropsCompletion(t *testing.T) {
	repo := newMockCommentRepo()
	svc, _, _ := newCommentFixture(t, repo, CommentOptions{})
	_, err := svc.OpenThread(context.Background(), "p1")
	require.NoError(t, err)
	repo.beforeCreate = func() { svc.CloseThread("p1") }

	res, err := svc.Add(context.Background(), "p1", dto.AddCommentRequest{Message: "bye"})
	require.NoError(t, err)
	assert.Equal(t, feed.Dropped.String(), res.Outcome)
	_, ok := svc.Thread("p1")
	assert.False(t, ok)
}

func TestCommentServiceUsesWatcher(t *testing.T) {
	var deliver func([]models.Comment)
	stopped := 0
	watcher := func(ctx context.Context, postID string, fn func([]models.Comment)) (func(), error) {
		deliver = fn
		fn([]models.Comment{threadComment("c-a", postID, 1)})
		return func() { stopped++ }, nil
	}
	repo := newMockCommentRepo()
	repo.listErr = errors.New("must not be called")
	svc, _, _ := newCommentFixture(t, repo, CommentOptions{Watcher: watcher})

	_, err := svc.OpenThread(context.Background(), "p1")
	require.NoError(t, err)
	items, _ := svc.Thread("p1")
	assert.Equal(t, []string{"c-a"}, threadIDs(items))

	deliver([]models.Comment{threadComment("c-a", "p1", 1), threadComment("c-b", "p1", 5)})
	items, _ = svc.Thread("p1")
	assert.Equal(t, []string{"c-b", "c-a"}, threadIDs(items))

	svc.CloseAll()
	assert.Equal(t, 1, stopped)
	deliver([]models.Comment{threadComment("c-c", "p1", 9)})
	_, ok := svc.Thread("p1")
	assert.False(t, ok)
}

func TestCommentServiceWatcherFailureFallsBackToQuery(t *testing.T) {
	watcher := func(ctx context.Context, postID string, fn func([]models.Comment)) (func(), error) {
		return nil, errors.New("listener down")
	}
	repo := newMockCommentRepo()
	repo.threads["p1"] = []models.Comment{threadComment("c-a", "p1", 1)}
	svc, _, _ := newCommentFixture(t, repo, CommentOptions{Watcher: watcher})

	_, err := svc.OpenThread(context.Background(), "p1")
	require.NoError(t, err)
	items, _ := svc.Thread("p1")
	assert.Len(t, items, 1)
}
