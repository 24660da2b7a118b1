package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-classwall/internal/middleware"
	"github.com/noah-isme/sma-classwall/internal/models"
	"github.com/noah-isme/sma-classwall/internal/service"
	appErrors "github.com/noah-isme/sma-classwall/pkg/errors"
)

var handlerEpoch = time.Date(2024, 4, 2, 7, 30, 0, 0, time.UTC)

type memPostRepo struct {
	mu        sync.Mutex
	posts     map[string]models.Post
	nextID    int
	createErr error
}

func (m *memPostRepo) ListWall(ctx context.Context, limit int) ([]models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Post, 0, len(m.posts))
	for _, p := range m.posts {
		out = append(out, p)
	}
	return out, nil
}

func (m *memPostRepo) FindByID(ctx context.Context, id string) (*models.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &p, nil
}

func (m *memPostRepo) Create(ctx context.Context, post *models.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	post.ID = fmt.Sprintf("srv-%d", m.nextID)
	post.CreatedAt = handlerEpoch.Add(time.Duration(m.nextID) * time.Minute)
	post.UpdatedAt = post.CreatedAt
	m.posts[post.ID] = *post
	return nil
}

func (m *memPostRepo) Update(ctx context.Context, post *models.Post) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.posts[post.ID]; !ok {
		return false, nil
	}
	m.posts[post.ID] = *post
	return true, nil
}

func (m *memPostRepo) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.posts, id)
	return nil
}

func (m *memPostRepo) SetLike(ctx context.Context, postID, userID string, liked bool) (pq.StringArray, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[postID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	next := pq.StringArray{}
	for _, id := range p.LikedBy {
		if id != userID {
			next = append(next, id)
		}
	}
	if liked {
		next = append(next, userID)
	}
	p.LikedBy = next
	m.posts[postID] = p
	return next, nil
}

type memCommentRepo struct {
	mu      sync.Mutex
	threads map[string][]models.Comment
	nextID  int
}

func (m *memCommentRepo) ListByPost(ctx context.Context, postID string) ([]models.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Comment(nil), m.threads[postID]...), nil
}

func (m *memCommentRepo) Create(ctx context.Context, comment *models.Comment) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	comment.ID = fmt.Sprintf("c-%d", m.nextID)
	comment.CreatedAt = handlerEpoch.Add(time.Duration(m.nextID) * time.Hour)
	m.threads[comment.PostID] = append(m.threads[comment.PostID], *comment)
	return len(m.threads[comment.PostID]), nil
}

type memProfiles map[string]models.Identity

func (m memProfiles) Profile(ctx context.Context, userID string) (models.Identity, error) {
	p, ok := m[userID]
	if !ok {
		return models.Identity{}, appErrors.Clone(appErrors.ErrUnauthorized, "viewer no longer exists")
	}
	return p, nil
}

type noMemberships struct{}

func (noMemberships) ListCreated(ctx context.Context, userID string) ([]models.Membership, error) {
	return nil, nil
}

func (noMemberships) ListEnrolled(ctx context.Context, userID string) ([]models.Membership, error) {
	return []models.Membership{{ClassID: "c1", ClassName: "Biology", Section: "A"}}, nil
}

var (
	sari = models.Identity{ID: "u1", DisplayName: "Sari", Role: models.RoleStudent}
	joko = models.Identity{ID: "t1", DisplayName: "Pak Joko", Role: models.RoleInstructor}
)

type handlerFixture struct {
	sessions *service.SessionService
	posts    *memPostRepo
	comments *memCommentRepo
}

func newHandlerFixture(t *testing.T, posts ...models.Post) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	postRepo := &memPostRepo{posts: make(map[string]models.Post)}
	for _, p := range posts {
		postRepo.posts[p.ID] = p
	}
	commentRepo := &memCommentRepo{threads: make(map[string][]models.Comment)}
	sessions := service.NewSessionService(service.SessionDeps{
		Posts:       postRepo,
		Comments:    commentRepo,
		Profiles:    memProfiles{sari.ID: sari, joko.ID: joko},
		Memberships: service.NewMembershipResolver(noMemberships{}, nil, time.Minute, nil, nil),
	}, service.SessionConfig{SnapshotLimit: 50})
	t.Cleanup(sessions.ReleaseAll)
	return &handlerFixture{sessions: sessions, posts: postRepo, comments: commentRepo}
}

func seededPost(id, authorID string, minute int) models.Post {
	return models.Post{
		ID:        id,
		AuthorID:  authorID,
		Author:    authorID,
		Role:      models.RoleStudent,
		Message:   "post " + id,
		CreatedAt: handlerEpoch.Add(time.Duration(minute) * time.Minute),
		Audience:  models.AudienceWorld,
		LikedBy:   pq.StringArray{},
	}
}

// newContext builds a gin test context for viewer (nil for anonymous) with an optional JSON body.
func newContext(t *testing.T, method, target string, viewer *models.Identity, body interface{}) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = bytes.NewBufferString(b)
		default:
			raw, err := json.Marshal(b)
			require.NoError(t, err)
			reader = bytes.NewReader(raw)
		}
	}
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.Request = req
	if viewer != nil {
		c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: viewer.ID, Role: viewer.Role, DisplayName: viewer.DisplayName})
	}
	return c, w
}

type envelope struct {
	Data    json.RawMessage        `json:"data"`
	Error   *appErrors.Error       `json:"error"`
	Warning *appErrors.Error       `json:"warning"`
	Meta    map[string]interface{} `json:"meta"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}
