package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const widgetRecord = `{"fixed":"31.95","breaks":[{"min":10,"price":"27.50"}]}`

type countingSource struct {
	records map[string]string
	calls   int
	err     error
}

func (s *countingSource) TierRecord(_ context.Context, variantID string) (string, bool, error) {
	s.calls++
	if s.err != nil {
		return "", false, s.err
	}
	rec, ok := s.records[variantID]
	return rec, ok, nil
}

func TestParseFixturesAcceptsObjectsAndStrings(t *testing.T) {
	doc := `{
		"gid://shop/ProductVariant/1": {"fixed":"10","breaks":[]},
		"gid://shop/ProductVariant/2": "{\"fixed\":\"5\",\"breaks\":[]}",
		"  ": {"fixed":"1","breaks":[]}
	}`
	fx, err := ParseFixtures([]byte(doc))
	require.NoError(t, err)
	require.Equal(t, 2, fx.Len())

	rec, ok, err := fx.TierRecord(context.Background(), "gid://shop/ProductVariant/2")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"fixed":"5","breaks":[]}`, rec)

	rec, ok, err = fx.TierRecord(context.Background(), "gid://shop/ProductVariant/1")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"fixed":"10","breaks":[]}`, rec)

	_, ok, err = fx.TierRecord(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLoadFixtures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiers.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"v1":`+widgetRecord+`}`), 0o600))
	fx, err := LoadFixtures(path)
	require.NoError(t, err)
	require.Equal(t, 1, fx.Len())

	_, err = LoadFixtures(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)

	_, err = ParseFixtures([]byte("["))
	require.Error(t, err)
}

func TestNilFixturesIsEmpty(t *testing.T) {
	var fx *Fixtures
	_, ok, err := fx.TierRecord(context.Background(), "v1")
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, fx.Len())
}

func TestChainFallsThrough(t *testing.T) {
	ctx := context.Background()
	broken := &countingSource{err: errors.New("boom")}
	second := &countingSource{records: map[string]string{"v1": widgetRecord}}
	chain := Chain{broken, nil, second}

	rec, ok, err := chain.TierRecord(ctx, "v1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, widgetRecord, rec)

	_, ok, err = chain.TierRecord(ctx, "v2")
	require.False(t, ok)
	require.ErrorIs(t, err, ErrSourceUnavailable)

	_, ok, err = Chain{second}.TierRecord(ctx, "v2")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCachedReadThrough(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	backing := &countingSource{records: map[string]string{"v1": widgetRecord}}
	cached := Cached{Next: backing, Cache: NewCache(client, time.Minute), Prefix: "test:"}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec, ok, err := cached.TierRecord(ctx, "v1")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, widgetRecord, rec)
	}
	require.Equal(t, 1, backing.calls)
	require.True(t, mr.Exists("test:v1"))

	for i := 0; i < 2; i++ {
		_, ok, err := cached.TierRecord(ctx, "v2")
		require.NoError(t, err)
		require.False(t, ok)
	}
	require.Equal(t, 2, backing.calls)

	require.NoError(t, cached.Invalidate(ctx, "v1"))
	_, _, err = cached.TierRecord(ctx, "v1")
	require.NoError(t, err)
	require.Equal(t, 3, backing.calls)

	mr.FastForward(2 * time.Minute)
	require.False(t, mr.Exists("test:v1"))
}

func TestCachedSurvivesRedisOutage(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()
	mr.Close()

	backing := &countingSource{records: map[string]string{"v1": widgetRecord}}
	cached := Cached{Next: backing, Cache: NewCache(client, time.Minute)}
	rec, ok, err := cached.TierRecord(context.Background(), "v1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, widgetRecord, rec)
}

type stubRow struct {
	value *string
	err   error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	ptr := dest[0].(**string)
	*ptr = r.value
	return nil
}

type stubDB struct {
	rows    map[string]stubRow
	lastSQL string
}

func (db *stubDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	db.lastSQL = sql
	id, _ := args[0].(string)
	if row, ok := db.rows[id]; ok {
		return row
	}
	return stubRow{err: pgx.ErrNoRows}
}

func TestPGSource(t *testing.T) {
	rec := widgetRecord
	db := &stubDB{rows: map[string]stubRow{
		"v1":   {value: &rec},
		"null": {value: nil},
		"bad":  {err: errors.New("connection reset")},
	}}
	src := PGSource{DB: db}
	ctx := context.Background()

	got, ok, err := src.TierRecord(ctx, " v1 ")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, widgetRecord, got)
	require.Contains(t, db.lastSQL, "product_variant_tiers")

	_, ok, err = src.TierRecord(ctx, "null")
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = src.TierRecord(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	_, _, err = src.TierRecord(ctx, "bad")
	require.Error(t, err)

	_, ok, err = PGSource{}.TierRecord(ctx, "v1")
	require.NoError(t, err)
	require.False(t, ok)
}

type stubBatchResults struct {
	failAt int
	execs  int
	closed bool
}

func (b *stubBatchResults) Exec() (pgconn.CommandTag, error) {
	b.execs++
	if b.failAt > 0 && b.execs == b.failAt {
		return pgconn.CommandTag{}, errors.New("invalid input syntax for type json")
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (b *stubBatchResults) Query() (pgx.Rows, error) { return nil, errors.New("not used") }
func (b *stubBatchResults) QueryRow() pgx.Row        { return stubRow{err: errors.New("not used")} }
func (b *stubBatchResults) Close() error {
	b.closed = true
	return nil
}

type stubBatchDB struct {
	results *stubBatchResults
	queued  []string
}

func (db *stubBatchDB) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	for _, q := range b.QueuedQueries {
		db.queued = append(db.queued, q.Arguments[0].(string))
	}
	return db.results
}

func TestUpsertRecords(t *testing.T) {
	db := &stubBatchDB{results: &stubBatchResults{}}
	err := UpsertRecords(context.Background(), db, map[string]string{"v2": widgetRecord, "v1": widgetRecord})
	require.NoError(t, err)
	require.Equal(t, []string{"v1", "v2"}, db.queued)
	require.Equal(t, 2, db.results.execs)
	require.True(t, db.results.closed)

	require.NoError(t, UpsertRecords(context.Background(), db, nil))
}

func TestUpsertRecordsReportsFailingVariant(t *testing.T) {
	db := &stubBatchDB{results: &stubBatchResults{failAt: 2}}
	err := UpsertRecords(context.Background(), db, map[string]string{"a": "{}", "b": "{", "c": "{}"})
	require.ErrorContains(t, err, "upsert tier record b")
	require.True(t, db.results.closed)
}

func TestFixturesRecordsIsACopy(t *testing.T) {
	fx := NewFixtures(map[string]string{"v1": widgetRecord})
	recs := fx.Records()
	recs["v1"] = "changed"
	rec, _, _ := fx.TierRecord(context.Background(), "v1")
	require.Equal(t, widgetRecord, rec)

	var empty *Fixtures
	require.Empty(t, empty.Records())
}
