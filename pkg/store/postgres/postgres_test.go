package postgres

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecoworks/retrofit/pkg/model"
	"github.com/ecoworks/retrofit/pkg/store"
)

func newMockStore(t *testing.T, opts ...Option) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db, opts...), mock
}

func docOf(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestGetAssessment(t *testing.T) {
	s, mock := newMockStore(t)

	a := model.NewAssessment("a1", "alice", "org1")
	a.Name = "Semi in Leeds"
	a.Version = 3

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT doc FROM assessments WHERE id = $1`)).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows([]string{"doc"}).AddRow(docOf(t, a)))

	got, err := s.GetAssessment(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, "Semi in Leeds", got.Name)
	assert.Equal(t, "alice", got.OwnerID)
	assert.Equal(t, int64(3), got.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAssessmentNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT doc FROM assessments WHERE id = $1`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"doc"}))

	_, err := s.GetAssessment(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
}

func TestAssessmentsSharedWithQueriesJSONB(t *testing.T) {
	s, mock := newMockStore(t)

	a := model.NewAssessment("a1", "alice", "org1")
	a.SharedWith.Add("bob")

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT doc FROM assessments WHERE doc->'shared_with' ? $1 ORDER BY id`)).
		WithArgs("bob").
		WillReturnRows(sqlmock.NewRows([]string{"doc"}).AddRow(docOf(t, a)))

	got, err := s.AssessmentsSharedWith(context.Background(), "bob")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a1", got[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListPrincipals(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT doc FROM principals ORDER BY id`)).
		WillReturnRows(sqlmock.NewRows([]string{"doc"}).
			AddRow(docOf(t, &model.Principal{ID: "alice"})).
			AddRow(docOf(t, &model.Principal{ID: "bob"})))

	got, err := s.ListPrincipals(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "alice", got[0].ID)
	assert.Equal(t, "bob", got[1].ID)
}

func TestUpdateStaleVersionConflicts(t *testing.T) {
	s, mock := newMockStore(t)

	current := model.NewAssessment("a1", "alice", "org1")
	current.Version = 2

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT doc FROM assessments WHERE id = $1 FOR UPDATE`)).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows([]string{"doc"}).AddRow(docOf(t, current)))
	mock.ExpectRollback()

	stale := current.Clone()
	stale.Version = 1
	err := s.Update(context.Background(), func(tx store.Tx) error {
		return tx.PutAssessment(stale)
	})
	require.Error(t, err)
	assert.Equal(t, model.KindConflict, model.KindOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateInsertsAndInvalidatesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewCacheWithClient(client, time.Minute)

	s, mock := newMockStore(t, WithCache(cache))

	// A stale snapshot sits in the cache before the write.
	require.NoError(t, mr.Set("retrofit:assessment:a1", `{"id":"a1"}`))

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT doc FROM assessments WHERE id = $1 FOR UPDATE`)).
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows([]string{"doc"}))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO assessments`)).
		WithArgs("a1", "alice", "org1", int64(1), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.Update(context.Background(), func(tx store.Tx) error {
		return tx.PutAssessment(model.NewAssessment("a1", "alice", "org1"))
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.False(t, mr.Exists("retrofit:assessment:a1"))
}

func TestUpdateCallbackErrorRollsBack(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.Update(context.Background(), func(tx store.Tx) error {
		return model.ErrBadRequest("nope")
	})
	require.Error(t, err)
	assert.Equal(t, model.KindBadRequest, model.KindOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPrincipalServedFromCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewCacheWithClient(client, time.Minute)

	// No sqlmock expectations: a cache hit must not touch the database.
	s, mock := newMockStore(t, WithCache(cache))

	p := &model.Principal{ID: "alice", DisplayName: "Alice"}
	require.NoError(t, mr.Set("retrofit:principal:alice", string(docOf(t, p))))

	got, err := s.GetPrincipal(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.DisplayName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheDropsCorruptEntries(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewCacheWithClient(client, time.Minute)

	require.NoError(t, mr.Set("retrofit:library:l1", "{not json"))

	_, ok := cacheGet[model.Library](context.Background(), cache, "retrofit:library:l1")
	assert.False(t, ok)
	assert.False(t, mr.Exists("retrofit:library:l1"))
}

func TestCacheOutageFallsThrough(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewCacheWithClient(client, time.Minute)
	mr.Close()

	s, mock := newMockStore(t, WithCache(cache))

	l := model.NewGlobalLibrary("l1", "Defaults", "constructions")
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT doc FROM libraries WHERE id = $1`)).
		WithArgs("l1").
		WillReturnRows(sqlmock.NewRows([]string{"doc"}).AddRow(docOf(t, l)))

	got, err := s.GetLibrary(context.Background(), "l1")
	require.NoError(t, err)
	assert.Equal(t, "Defaults", got.Name)
}
