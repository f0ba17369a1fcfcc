package sqlstore

import (
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eleven-am/weft/internal/domain"
)

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func openSQLite(t *testing.T, c *clock) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "weft.db")
	s, err := Open(DriverSQLite, dsn, domain.StorageConfig{RunTTL: time.Hour}, nil, WithClock(c.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleGraph() *domain.Graph {
	return &domain.Graph{
		Nodes: []domain.Node{
			{ID: "in", Spec: domain.SpecInput, Config: map[string]interface{}{"value": "hi"}},
			{ID: "out", Spec: domain.SpecOutput},
		},
		Edges: []domain.Edge{{Source: "in", Target: "out", Gating: domain.RequireNonEmpty}},
	}
}

func TestStore_Versions(t *testing.T) {
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := openSQLite(t, c)

	require.NoError(t, s.PutVersion("wf", "bbbb", sampleGraph()))
	c.Advance(time.Minute)

	other := sampleGraph()
	other.Nodes[0].Config["value"] = "changed"
	require.NoError(t, s.PutVersion("wf", "aaaa", other))

	c.Advance(time.Minute)
	require.NoError(t, s.PutVersion("wf", "bbbb", other), "republishing a hash is a no-op")

	v, err := s.GetVersion("wf", "bbbb")
	require.NoError(t, err)
	assert.Equal(t, "hi", v.Graph.Nodes[0].Config["value"], "first snapshot wins")
	assert.Equal(t, domain.RequireNonEmpty, v.Graph.Edges[0].Gating)
	assert.True(t, v.PublishedAt.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))

	versions, err := s.ListVersions("wf")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "bbbb", versions[0].Hash, "oldest first")
	assert.Equal(t, "aaaa", versions[1].Hash)

	none, err := s.ListVersions("other")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = s.GetVersion("wf", "cccc")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = s.PutVersion("", "x", sampleGraph())
	assert.Equal(t, domain.CategoryConfiguration, domain.GetErrorCategory(err))
}

func TestStore_Active(t *testing.T) {
	s := openSQLite(t, &clock{now: time.Now()})

	_, err := s.Active("wf")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.ErrorIs(t, s.SetActive("wf", "missing"), domain.ErrNotFound)

	require.NoError(t, s.PutVersion("wf", "h1", sampleGraph()))
	require.NoError(t, s.PutVersion("wf", "h2", sampleGraph()))

	require.NoError(t, s.SetActive("wf", "h1"))
	hash, err := s.Active("wf")
	require.NoError(t, err)
	assert.Equal(t, "h1", hash)

	require.NoError(t, s.SetActive("wf", "h2"))
	hash, err = s.Active("wf")
	require.NoError(t, err)
	assert.Equal(t, "h2", hash)
}

func TestStore_RunsExpire(t *testing.T) {
	c := &clock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	s := openSQLite(t, c)

	result := &domain.RunResult{
		RunID:  "run-1",
		Mode:   domain.ModeDev,
		Status: domain.RunSucceeded,
		Nodes: map[string]*domain.NodeState{
			"out": {NodeID: "out", Status: domain.NodeSucceeded, Output: "hello", HasOutput: true},
		},
	}
	require.NoError(t, s.SaveRun(result))

	result.Status = domain.RunFailed
	require.NoError(t, s.SaveRun(result), "saving again overwrites")

	got, err := s.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, got.Status)
	assert.Equal(t, "hello", got.Node("out").Output)

	c.Advance(2 * time.Hour)
	_, err = s.GetRun("run-1")
	assert.ErrorIs(t, err, domain.ErrNotFound, "expired runs are invisible before purge")

	removed, err := s.PurgeExpired()
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	assert.Error(t, s.SaveRun(&domain.RunResult{}))
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "weft.db")

	s, err := Open(DriverSQLite, dsn, domain.StorageConfig{}, nil)
	require.NoError(t, err)
	require.NoError(t, s.PutVersion("wf", "h1", sampleGraph()))
	require.NoError(t, s.SetActive("wf", "h1"))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close is idempotent")

	s, err = Open(DriverSQLite, dsn, domain.StorageConfig{}, nil)
	require.NoError(t, err)
	defer s.Close()

	hash, err := s.Active("wf")
	require.NoError(t, err)
	assert.Equal(t, "h1", hash)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open("mysql", "dsn", domain.StorageConfig{}, nil)
	assert.Equal(t, domain.CategoryConfiguration, domain.GetErrorCategory(err))
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	for range schema {
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	s, err := New(db, DriverPostgres, domain.StorageConfig{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		mock.ExpectClose()
		_ = s.Close()
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	return s, mock
}

func TestStore_PostgresPlaceholders(t *testing.T) {
	s, mock := newMockStore(t)

	assert.Equal(t, "SELECT a FROM t WHERE b = $1 AND c = $2", s.rebind("SELECT a FROM t WHERE b = ? AND c = ?"))

	mock.ExpectExec(regexp.QuoteMeta("VALUES ($1, $2, $3, $4)")).
		WithArgs("wf", "h1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.PutVersion("wf", "h1", sampleGraph()))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT hash FROM weft_active WHERE workflow_id = $1")).
		WithArgs("wf").
		WillReturnRows(sqlmock.NewRows([]string{"hash"}).AddRow("h1"))
	hash, err := s.Active("wf")
	require.NoError(t, err)
	assert.Equal(t, "h1", hash)
}

func TestStore_DatabaseErrorsAreResourceErrors(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT result FROM weft_runs").
		WillReturnError(errors.New("connection lost"))
	_, err := s.GetRun("run-1")
	require.Error(t, err)
	assert.Equal(t, domain.CategoryResource, domain.GetErrorCategory(err))
	assert.NotErrorIs(t, err, domain.ErrNotFound)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT 1 FROM weft_versions").
		WithArgs("wf", "h1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(1))
	mock.ExpectExec("INSERT INTO weft_active").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()
	err = s.SetActive("wf", "h1")
	assert.Equal(t, domain.CategoryResource, domain.GetErrorCategory(err))
}
