package persist

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/weave/errors"
	qtesting "github.com/teranos/weave/internal/testing"
)

const snapshot = `<http://example.org/a> <http://example.org/p> "x" <urn:weave:expression:sig> .
<http://example.org/a> <http://example.org/p> "x" .
`

func exercisePersister(t *testing.T, p Persister) {
	ctx := context.Background()

	_, ok, err := p.Load(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, p.Save(ctx, AgentGraphID, snapshot))
	got, ok, err := p.Load(ctx, AgentGraphID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, snapshot, got)

	require.NoError(t, p.Save(ctx, AgentGraphID, ""))
	got, ok, err = p.Load(ctx, AgentGraphID)
	require.NoError(t, err)
	assert.True(t, ok, "an empty snapshot still exists")
	assert.Empty(t, got)
}

func TestMemory(t *testing.T) {
	exercisePersister(t, NewMemory())
}

func TestSQLStore(t *testing.T) {
	db := qtesting.CreateTestDB(t)
	s := NewSQLStore(db, zaptest.NewLogger(t).Sugar())
	exercisePersister(t, s)

	require.NoError(t, s.Save(context.Background(), "p1", snapshot))
	var count int
	require.NoError(t, db.QueryRow("SELECT quad_count FROM graph_snapshots WHERE id = 'p1'").Scan(&count))
	assert.Equal(t, 2, count)

	require.NoError(t, s.Delete(context.Background(), "p1"))
	_, ok, err := s.Load(context.Background(), "p1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLStoreErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewSQLStore(db, nil)

	mock.ExpectQuery(`SELECT nquads FROM graph_snapshots`).
		WithArgs("p1").
		WillReturnError(errors.New("disk I/O error"))
	_, _, err = s.Load(context.Background(), "p1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load snapshot p1")

	mock.ExpectExec(`INSERT INTO graph_snapshots`).
		WithArgs("p1", snapshot, 2).
		WillReturnError(errors.New("database is locked"))
	err = s.Save(context.Background(), "p1", snapshot)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFileStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snapshots")
	f, err := NewFileStore(dir)
	require.NoError(t, err)
	exercisePersister(t, f)

	require.NoError(t, f.Save(context.Background(), "neighbourhood://QmX/y", snapshot))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"agent.nq", "neighbourhood:%2F%2FQmX%2Fy.nq"}, names)
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(qtesting.CreateTestDB(t))

	require.NoError(t, r.AddPerspective(ctx, PerspectiveRecord{ID: "p1", Name: "notes"}))
	require.NoError(t, r.AddPerspective(ctx, PerspectiveRecord{ID: "p1", Name: "renamed"}))
	require.NoError(t, r.AddPerspective(ctx, PerspectiveRecord{ID: "p2", Name: "other"}))
	ps, err := r.Perspectives(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []PerspectiveRecord{{"p1", "renamed"}, {"p2", "other"}}, ps)

	require.NoError(t, r.RemovePerspective(ctx, "p2"))
	ps, err = r.Perspectives(ctx)
	require.NoError(t, err)
	assert.Equal(t, []PerspectiveRecord{{"p1", "renamed"}}, ps)

	require.NoError(t, r.AddNeighbourhood(ctx, NeighbourhoodRecord{URL: "neighbourhood://a", Language: "shacl-language-v1"}))
	require.NoError(t, r.AddNeighbourhood(ctx, NeighbourhoodRecord{URL: "neighbourhood://a", Language: "lang:shacl-vc-v1"}))
	ns, err := r.Neighbourhoods(ctx)
	require.NoError(t, err)
	assert.Equal(t, []NeighbourhoodRecord{{"neighbourhood://a", "lang:shacl-vc-v1"}}, ns)

	require.NoError(t, r.RemoveNeighbourhood(ctx, "neighbourhood://a"))
	ns, err = r.Neighbourhoods(ctx)
	require.NoError(t, err)
	assert.Empty(t, ns)
}

func TestRegistryErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	r := NewRegistry(db)

	mock.ExpectQuery(`SELECT url, language FROM neighbourhoods`).
		WillReturnRows(sqlmock.NewRows([]string{"url", "language"}).
			AddRow("neighbourhood://a", "shacl-language-v1").
			RowError(0, errors.New("corrupt page")))
	_, err = r.Neighbourhoods(context.Background())
	require.Error(t, err)

	mock.ExpectExec(`INSERT INTO perspectives`).
		WithArgs("p1", "notes").
		WillReturnError(errors.New("readonly database"))
	err = r.AddPerspective(context.Background(), PerspectiveRecord{ID: "p1", Name: "notes"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to record perspective p1")

	require.NoError(t, mock.ExpectationsWereMet())
}
