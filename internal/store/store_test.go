package store

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/dialect"
	"github.com/roach88/relq/internal/engine"
	"github.com/roach88/relq/internal/mapping"
	"github.com/roach88/relq/internal/query"
)

type author struct {
	ID   int64 `relq:"id,pk,generated"`
	Name string
	Born *time.Time
}

type tag struct {
	PostID int64 `relq:"post_id,pk"`
	Label  string `relq:"label,pk"`
	Pinned bool
}

func catalog(t *testing.T) *mapping.Mapping {
	t.Helper()
	m := mapping.New()
	mapping.MustRegister[author](m, "Author")
	mapping.MustRegister[tag](m, "Tag")
	require.NoError(t, m.Validate())
	return m
}

func quietLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_AppliesPragmas(t *testing.T) {
	s := createTestStore(t)

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
}

func TestOpen_Memory(t *testing.T) {
	s, err := Open(Memory)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.CreateSchema(context.Background(), catalog(t)))
	var n int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM "authors"`).Scan(&n))
	assert.Zero(t, n)
}

func TestDDL_Golden(t *testing.T) {
	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden.sql"))
	g.Assert(t, "catalog", []byte(DDL(catalog(t))))
}

func TestCreateSchema_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	v, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Zero(t, v)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.CreateSchema(ctx, catalog(t)))
	}
	v, err = s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, schemaVersion, v)
}

func TestSeed_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	m := catalog(t)
	require.NoError(t, s.CreateSchema(ctx, m))
	e, err := m.Entity("Tag")
	require.NoError(t, err)

	rows := []map[string]any{
		{"post_id": 2, "label": "go", "pinned": true},
		{"post_id": 1, "label": "sql", "pinned": "false"},
	}
	require.NoError(t, s.Seed(ctx, e, rows))
	require.NoError(t, s.Seed(ctx, e, rows), "seeding twice is harmless")

	got, err := s.ReadTable(ctx, e)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"post_id": int64(1), "label": "sql", "pinned": false},
		{"post_id": int64(2), "label": "go", "pinned": true},
	}, got)
}

func TestSeed_GeneratedKeysAndTimes(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	m := catalog(t)
	require.NoError(t, s.CreateSchema(ctx, m))
	e, err := m.Entity("Author")
	require.NoError(t, err)

	require.NoError(t, s.Seed(ctx, e, []map[string]any{
		{"name": "Ann", "born": "1990-04-01T00:00:00Z"},
		{"name": "Ben"},
	}))

	got, err := s.ReadTable(ctx, e)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0]["id"])
	born, ok := got[0]["born"].(time.Time)
	require.True(t, ok, "%T", got[0]["born"])
	assert.True(t, born.Equal(time.Date(1990, 4, 1, 0, 0, 0, 0, time.UTC)), born)
	assert.Equal(t, int64(2), got[1]["id"])
	assert.Nil(t, got[1]["born"])
}

func TestSeed_UnknownMember(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	m := catalog(t)
	require.NoError(t, s.CreateSchema(ctx, m))
	e, err := m.Entity("Tag")
	require.NoError(t, err)

	err = s.Seed(ctx, e, []map[string]any{{"post_id": 1, "label": "x", "color": "red"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no member "color"`)
}

func TestStore_ServesProvider(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	m := catalog(t)
	require.NoError(t, s.CreateSchema(ctx, m))

	p := engine.New(s.Conn(), m, dialect.SQLite, engine.WithLogger(quietLogger()))
	id, err := p.Insert(ctx, "Author", &author{Name: "Cal"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	names, err := engine.List[string](ctx, p, query.FromEntity("Author").
		Select(query.Fn("a", query.M("a.name"))).Op())
	require.NoError(t, err)
	assert.Equal(t, []string{"Cal"}, names)
}
