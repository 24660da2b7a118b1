package repository

import (
	"context"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMembershipRepositoryListCreated(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewMembershipRepository(db)

	rows := sqlmock.NewRows([]string{"class_id", "class_name", "section"}).
		AddRow("c1", "Biology", "A").
		AddRow("c1", "Biology", "B")
	mock.ExpectQuery("FROM classes c\\s+JOIN class_sections s").WithArgs("u1").WillReturnRows(rows)

	items, err := repo.ListCreated(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Biology", items[1].ClassName)
	assert.Equal(t, "B", items[1].Section)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMembershipRepositoryListEnrolled(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewMembershipRepository(db)

	mock.ExpectQuery("FROM enrollments e").WithArgs("u2").
		WillReturnRows(sqlmock.NewRows([]string{"class_id", "class_name", "section"}).AddRow("c1", "Biology", "A"))

	items, err := repo.ListEnrolled(context.Background(), "u2")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "c1", items[0].ClassID)
}

func TestMembershipRepositoryWrapsErrors(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewMembershipRepository(db)

	mock.ExpectQuery("FROM enrollments e").WillReturnError(errors.New("permission denied for table enrollments"))

	_, err := repo.ListEnrolled(context.Background(), "u2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list enrolled classes")
}
