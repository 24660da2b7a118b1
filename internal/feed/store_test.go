package feed

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-classwall/internal/models"
)

var base = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func newTestStore() *Store[models.Post] {
	s := NewStore[models.Post]()
	n := 0
	s.newID = func() string {
		n++
		return fmt.Sprintf("tmp-%d", n)
	}
	return s
}

func post(id string, at time.Time) models.Post {
	return models.Post{ID: id, AuthorID: "U1", Author: "Ana", Message: "msg " + id, CreatedAt: at}
}

func ids(entries []Entry[models.Post]) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID.String()
	}
	return out
}

func TestReplaceSnapshotIsIdempotent(t *testing.T) {
	s := newTestStore()
	scope := s.Open("wall")
	_, ok := s.InsertOptimistic(scope, models.Post{AuthorID: "U1", Message: "draft"})
	require.True(t, ok)

	snapshot := []models.Post{post("p1", base), post("p2", base.Add(time.Minute)), post("p3", base.Add(-time.Minute))}
	s.ReplaceSnapshot(scope, snapshot)
	once := s.Items(scope)
	s.ReplaceSnapshot(scope, snapshot)

	assert.Equal(t, once, s.Items(scope))
	assert.Equal(t, []string{"local:tmp-1", "p2", "p1", "p3"}, ids(once))
}

func TestInsertThenReconcileLeavesOnlyConfirmed(t *testing.T) {
	s := newTestStore()
	scope := s.Open("wall")
	s.ReplaceSnapshot(scope, []models.Post{post("p1", base)})

	local, ok := s.InsertOptimistic(scope, models.Post{AuthorID: "U1", Message: "hello"})
	require.True(t, ok)
	assert.True(t, local.Pending())
	assert.Equal(t, []string{"local:tmp-1", "p1"}, ids(s.Items(scope)))

	outcome := s.Reconcile(scope, local, post("srv-9", base.Add(time.Hour)))
	assert.Equal(t, Reconciled, outcome)

	items := s.Items(scope)
	require.Len(t, items, 2)
	assert.Equal(t, []string{"srv-9", "p1"}, ids(items))
	assert.False(t, items[0].Pending())

	resolved := s.Resolve(scope, local)
	assert.Equal(t, ConfirmedID("srv-9"), resolved)
}

func TestReconcileKeepsPositionWithoutResort(t *testing.T) {
	s := newTestStore()
	scope := s.Open("wall")
	s.ReplaceSnapshot(scope, []models.Post{post("p1", base)})
	local, _ := s.InsertOptimistic(scope, models.Post{AuthorID: "U1", Message: "late clock"})

	s.Reconcile(scope, local, post("srv-1", base.Add(-time.Hour)))
	assert.Equal(t, []string{"srv-1", "p1"}, ids(s.Items(scope)))

	s.ReplaceSnapshot(scope, []models.Post{post("p1", base), post("srv-1", base.Add(-time.Hour))})
	assert.Equal(t, []string{"p1", "srv-1"}, ids(s.Items(scope)))
}

func TestSnapshotContainingConfirmedDraftDoesNotDuplicate(t *testing.T) {
	s := newTestStore()
	scope := s.Open("wall")
	draft := models.Post{AuthorID: "U1", Author: "Ana", Message: "quiz friday", CreatedAt: base}
	local, _ := s.InsertOptimistic(scope, draft)

	confirmed := draft
	confirmed.ID = "srv-1"
	s.ReplaceSnapshot(scope, []models.Post{confirmed, post("p0", base.Add(-time.Hour))})

	items := s.Items(scope)
	require.Len(t, items, 2)
	assert.Equal(t, []string{"srv-1", "p0"}, ids(items))

	assert.Equal(t, AlreadyMerged, s.Reconcile(scope, local, confirmed))
	assert.Len(t, s.Items(scope), 2)
}

func TestSnapshotMatchesDraftByClientRef(t *testing.T) {
	s := newTestStore()
	scope := s.Open("wall")
	local, _ := s.InsertOptimistic(scope, models.Post{AuthorID: "U1", Message: "no timestamp yet"})

	echo := post("srv-2", base)
	echo.ClientRef = local.Value()
	s.ReplaceSnapshot(scope, []models.Post{echo})

	assert.Equal(t, []string{"srv-2"}, ids(s.Items(scope)))
	assert.Equal(t, AlreadyMerged, s.Reconcile(scope, local, echo))
}

func TestReconcileAfterSnapshotWithUnmatchedEcho(t *testing.T) {
	s := newTestStore()
	scope := s.Open("wall")
	local, _ := s.InsertOptimistic(scope, models.Post{AuthorID: "U1", Message: "draft"})
	s.ReplaceSnapshot(scope, []models.Post{post("srv-3", base)})

	assert.Equal(t, AlreadyMerged, s.Reconcile(scope, local, post("srv-3", base)))
	assert.Equal(t, []string{"srv-3"}, ids(s.Items(scope)))
}

func TestPendingEntriesSurviveSnapshots(t *testing.T) {
	s := newTestStore()
	scope := s.Open("wall")
	s.InsertOptimistic(scope, models.Post{AuthorID: "U1", Message: "a"})
	s.InsertOptimistic(scope, models.Post{AuthorID: "U1", Message: "b"})

	s.ReplaceSnapshot(scope, []models.Post{post("p1", base.Add(24 * time.Hour))})
	assert.Equal(t, []string{"local:tmp-2", "local:tmp-1", "p1"}, ids(s.Items(scope)))

	s.ReplaceSnapshot(scope, nil)
	assert.Equal(t, []string{"local:tmp-2", "local:tmp-1"}, ids(s.Items(scope)))
}

func TestReconciledEntryWaitsForEcho(t *testing.T) {
	s := newTestStore()
	scope := s.Open("wall")
	local, _ := s.InsertOptimistic(scope, models.Post{AuthorID: "U1", Message: "a"})
	s.Reconcile(scope, local, post("srv-1", base))

	s.ReplaceSnapshot(scope, []models.Post{post("p1", base.Add(-time.Hour))})
	assert.Equal(t, []string{"srv-1", "p1"}, ids(s.Items(scope)))

	s.ReplaceSnapshot(scope, []models.Post{post("srv-1", base), post("p1", base.Add(-time.Hour))})
	s.ReplaceSnapshot(scope, []models.Post{post("p1", base.Add(-time.Hour))})
	assert.Equal(t, []string{"p1"}, ids(s.Items(scope)))
}

func TestSnapshotDeduplicatesLastWriteWins(t *testing.T) {
	s := newTestStore()
	scope := s.Open("wall")
	first := post("p1", base)
	second := post("p1", base)
	second.Message = "edited"

	s.ReplaceSnapshot(scope, []models.Post{first, second})
	items := s.Items(scope)
	require.Len(t, items, 1)
	assert.Equal(t, "edited", items[0].Item.Message)
}

func TestRemoveIsIdempotent(t *testing.T) {
	s := newTestStore()
	scope := s.Open("wall")
	s.ReplaceSnapshot(scope, []models.Post{post("p1", base), post("p2", base.Add(time.Minute))})

	assert.True(t, s.Remove(scope, ConfirmedID("p1")))
	after := s.Items(scope)
	assert.False(t, s.Remove(scope, ConfirmedID("p1")))
	assert.Equal(t, after, s.Items(scope))
	assert.False(t, s.Remove(scope, ConfirmedID("never")))
	assert.Equal(t, []string{"p2"}, ids(s.Items(scope)))
}

func TestRemovedPlaceholderEvictsConfirmation(t *testing.T) {
	s := newTestStore()
	scope := s.Open("wall")
	local, _ := s.InsertOptimistic(scope, models.Post{AuthorID: "U1", Message: "oops"})
	require.True(t, s.Remove(scope, local))

	confirmed := post("srv-1", base)
	confirmed.ClientRef = local.Value()
	assert.Equal(t, Evicted, s.Reconcile(scope, local, confirmed))
	assert.Empty(t, s.Items(scope))

	s.ReplaceSnapshot(scope, []models.Post{confirmed})
	assert.Empty(t, s.Items(scope))
}

func TestEqualTimestampsPutNewestInsertFirst(t *testing.T) {
	s := newTestStore()
	scope := s.Open("wall")
	a := post("A", base)
	b := post("B", base)

	s.ReplaceSnapshot(scope, []models.Post{a})
	s.ReplaceSnapshot(scope, []models.Post{a, b})
	assert.Equal(t, []string{"B", "A"}, ids(s.Items(scope)))

	s.ReplaceSnapshot(scope, []models.Post{b, a})
	assert.Equal(t, []string{"B", "A"}, ids(s.Items(scope)))
}

func TestOptimisticInsertsWithSameTimestamp(t *testing.T) {
	s := newTestStore()
	scope := s.Open("wall")
	s.InsertOptimistic(scope, models.Post{AuthorID: "U1", Message: "A", CreatedAt: base})
	s.InsertOptimistic(scope, models.Post{AuthorID: "U2", Message: "B", CreatedAt: base})

	items := s.Items(scope)
	require.Len(t, items, 2)
	assert.Equal(t, "B", items[0].Item.Message)
	assert.Equal(t, "A", items[1].Item.Message)
}

func TestUnresolvedTimestampSortsAsNow(t *testing.T) {
	s := newTestStore()
	scope := s.Open("wall")
	s.ReplaceSnapshot(scope, []models.Post{post("old", base), post("unresolved", time.Time{})})
	assert.Equal(t, []string{"unresolved", "old"}, ids(s.Items(scope)))
}

func TestUpdatePatchesInPlace(t *testing.T) {
	s := newTestStore()
	scope := s.Open("wall")
	s.ReplaceSnapshot(scope, []models.Post{post("p1", base)})

	assert.True(t, s.Update(scope, ConfirmedID("p1"), func(p *models.Post) { p.Comments = 3 }))
	assert.False(t, s.Update(scope, ConfirmedID("missing"), func(p *models.Post) { p.Comments = 9 }))

	got, ok := s.Get(scope, ConfirmedID("p1"))
	require.True(t, ok)
	assert.Equal(t, 3, got.Item.Comments)
}

func TestStaleScopeWritesAreDropped(t *testing.T) {
	s := newTestStore()
	old := s.Open("wall")
	local, _ := s.InsertOptimistic(old, models.Post{AuthorID: "U1", Message: "x"})
	s.Close(old)

	assert.Equal(t, Dropped, s.Reconcile(old, local, post("srv-1", base)))
	assert.False(t, s.ReplaceSnapshot(old, []models.Post{post("p1", base)}))
	_, ok := s.InsertOptimistic(old, models.Post{})
	assert.False(t, ok)
	assert.Nil(t, s.Items(old))

	fresh := s.Open("wall")
	assert.False(t, s.Active(old))
	assert.True(t, s.Active(fresh))
	s.Close(old)
	assert.True(t, s.Active(fresh))
	assert.Equal(t, 0, s.Len(fresh))
}

func TestOnChangeFiresOutsideLock(t *testing.T) {
	s := newTestStore()
	scope := s.Open("wall")
	var seen []int
	s.OnChange(func(sc Scope) {
		seen = append(seen, s.Len(sc))
	})

	s.InsertOptimistic(scope, models.Post{Message: "a"})
	s.ReplaceSnapshot(scope, []models.Post{post("p1", base)})
	s.Remove(scope, ConfirmedID("missing"))
	assert.Equal(t, []int{1, 2}, seen)
}

func TestCommentScopeOrdersNewestFirst(t *testing.T) {
	s := NewStore[models.Comment]()
	scope := s.Open("comments:p1")
	s.ReplaceSnapshot(scope, []models.Comment{
		{ID: "c1", PostID: "p1", CreatedAt: base},
		{ID: "c2", PostID: "p1", CreatedAt: base.Add(time.Minute)},
	})
	items := s.Items(scope)
	require.Len(t, items, 2)
	assert.Equal(t, "c2", items[0].ID.Value())
}

func TestParseItemID(t *testing.T) {
	assert.Equal(t, PendingID("abc"), ParseItemID("local:abc"))
	assert.Equal(t, ConfirmedID("abc"), ParseItemID("abc"))
	assert.Equal(t, "local:abc", PendingID("abc").String())
}
