package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-classwall/internal/models"
)

var postRowColumns = []string{"id", "client_ref", "author_id", "author", "role", "message", "created_at", "updated_at", "audience",
	"selected_sections", "likes", "liked_by", "comments", "image", "files", "is_announcement"}

func TestPostRepositoryListWall(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPostRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows(postRowColumns).
		AddRow("p1", "", "u1", "Ana", "INSTRUCTOR", "quiz friday", now, now, "Class",
			[]byte(`[{"classId":"c1","section":"A"}]`), 2, "{u2,u3}", 1, nil, []byte(`[]`), false).
		AddRow("p2", "tmp-1", "u2", "Ben", "STUDENT", "", now.Add(-time.Hour), now, "World",
			[]byte(`[]`), 0, "{}", 0, []byte(`{"name":"a.png","size":10,"type":"image/png","uri":"s3://a.png"}`), []byte(`[]`), false)
	mock.ExpectQuery(regexp.QuoteMeta("FROM posts ORDER BY created_at DESC, id DESC LIMIT 50")).WillReturnRows(rows)

	posts, err := repo.ListWall(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, models.AudienceClass, posts[0].Audience)
	assert.Equal(t, models.SectionRefs{{ClassID: "c1", Section: "A"}}, posts[0].SelectedSections)
	assert.Equal(t, pq.StringArray{"u2", "u3"}, posts[0].LikedBy)
	assert.Nil(t, posts[0].Image)
	require.NotNil(t, posts[1].Image)
	assert.Equal(t, "a.png", posts[1].Image.Name)
	assert.Equal(t, "tmp-1", posts[1].ClientRef)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostRepositoryListWallClampsLimit(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPostRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("LIMIT 100")).WillReturnRows(sqlmock.NewRows(postRowColumns))
	_, err := repo.ListWall(context.Background(), 0)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostRepositoryCreateAssignsServerFields(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPostRepository(db)

	stamped := time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("RETURNING created_at, updated_at")).
		WithArgs(sqlmock.AnyArg(), "tmp-1", "u1", "", models.UserRole(""), "hi", models.AudienceWorld,
			sqlmock.AnyArg(), sqlmock.AnyArg(), 0, sqlmock.AnyArg(), sqlmock.AnyArg(), false).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(stamped, stamped))

	post := &models.Post{ID: "ignored", ClientRef: "tmp-1", AuthorID: "u1", Message: "hi", Audience: models.AudienceWorld}
	require.NoError(t, repo.Create(context.Background(), post))
	assert.NotEqual(t, "ignored", post.ID)
	assert.Equal(t, stamped, post.CreatedAt)
	assert.Equal(t, stamped, post.UpdatedAt)
	assert.Equal(t, pq.StringArray{}, post.LikedBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostRepositoryUpdateStampsUpdatedAt(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPostRepository(db)

	stamped := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("updated_at = now()")).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(stamped))

	post := &models.Post{ID: "p1", Message: "edit"}
	found, err := repo.Update(context.Background(), post)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, stamped, post.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostRepositoryUpdateReportsMissing(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPostRepository(db)

	mock.ExpectQuery("UPDATE posts SET message").WillReturnRows(sqlmock.NewRows([]string{"updated_at"}))

	found, err := repo.Update(context.Background(), &models.Post{ID: "gone", Message: "edit"})
	require.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostRepositoryDeleteRemovesThread(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPostRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM comments WHERE post_id = $1")).WithArgs("p1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM posts WHERE id = $1")).WithArgs("p1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, repo.Delete(context.Background(), "p1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostRepositoryDeleteRollsBack(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPostRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM comments").WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()

	require.Error(t, repo.Delete(context.Background(), "p1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostRepositorySetLike(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPostRepository(db)

	mock.ExpectQuery("UPDATE posts SET liked_by").
		WithArgs("p1", "u2", true).
		WillReturnRows(sqlmock.NewRows([]string{"liked_by"}).AddRow("{u1,u2}"))

	likedBy, err := repo.SetLike(context.Background(), "p1", "u2", true)
	require.NoError(t, err)
	assert.Equal(t, pq.StringArray{"u1", "u2"}, likedBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostRepositorySetLikeMissingPost(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewPostRepository(db)

	mock.ExpectQuery("UPDATE posts SET liked_by").
		WithArgs("gone", "u2", false).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.SetLike(context.Background(), "gone", "u2", false)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}
