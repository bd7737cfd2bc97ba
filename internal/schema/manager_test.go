package schema

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func setupWarehouse(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE orders (id INTEGER PRIMARY KEY, amount REAL, placed_at TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE query_runs (id INTEGER PRIMARY KEY)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO orders (amount, placed_at) VALUES (9.99, '2024-01-01'), (19.99, '2024-01-02')`)
	require.NoError(t, err)

	return db
}

func setupRedisCache(t *testing.T) (Cache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewRedisCacheFromClient(client)
	t.Cleanup(func() { cache.Close() })
	return cache, mr
}

func TestGetBuiltinSalesSchema(t *testing.T) {
	m := NewManager(setupWarehouse(t), "sqlite", nil, time.Minute, testLogger())

	tbl, err := m.Get(context.Background(), "sales_data")
	require.NoError(t, err)
	assert.Equal(t, "sales_data", tbl.Name)
	assert.Len(t, tbl.Columns, 14)
}

func TestGetIntrospectsSQLite(t *testing.T) {
	m := NewManager(setupWarehouse(t), "sqlite", nil, time.Minute, testLogger())

	tbl, err := m.Get(context.Background(), "orders")
	require.NoError(t, err)
	require.Len(t, tbl.Columns, 3)
	assert.Equal(t, "id", tbl.Columns[0].Name)
	assert.Equal(t, "amount", tbl.Columns[1].Name)
}

func TestGetUnknownTable(t *testing.T) {
	m := NewManager(setupWarehouse(t), "sqlite", nil, time.Minute, testLogger())

	_, err := m.Get(context.Background(), "missing_table")
	assert.Error(t, err)
}

func TestGetEmptyTableName(t *testing.T) {
	m := NewManager(setupWarehouse(t), "sqlite", nil, time.Minute, testLogger())

	_, err := m.Get(context.Background(), "")
	assert.Error(t, err)
}

func TestGetUsesSharedCache(t *testing.T) {
	cache, mr := setupRedisCache(t)
	m := NewManager(setupWarehouse(t), "sqlite", cache, time.Minute, testLogger())

	_, err := m.Get(context.Background(), "orders")
	require.NoError(t, err)

	// The schema landed in the shared cache
	assert.True(t, mr.Exists("sqlagent:schema:orders"))

	// A fresh manager without warehouse access can serve from the cache
	m2 := NewManager(nil, "sqlite", cache, time.Minute, testLogger())
	tbl, err := m2.Get(context.Background(), "orders")
	require.NoError(t, err)
	assert.Len(t, tbl.Columns, 3)
}

func TestGetSurvivesCacheOutage(t *testing.T) {
	cache, mr := setupRedisCache(t)
	m := NewManager(setupWarehouse(t), "sqlite", cache, time.Minute, testLogger())

	mr.Close()

	// Cache failures degrade to direct introspection
	tbl, err := m.Get(context.Background(), "orders")
	require.NoError(t, err)
	assert.Len(t, tbl.Columns, 3)
}

func TestTablesExcludesBookkeeping(t *testing.T) {
	m := NewManager(setupWarehouse(t), "sqlite", nil, time.Minute, testLogger())

	tables, err := m.Tables(context.Background())
	require.NoError(t, err)
	require.Len(t, tables, 1)
	assert.Equal(t, "orders", tables[0].Name)
	assert.Equal(t, int64(2), tables[0].Rows)
}

func TestInvalidateDropsLocalCopy(t *testing.T) {
	m := NewManager(setupWarehouse(t), "sqlite", nil, time.Minute, testLogger())
	ctx := context.Background()

	_, err := m.Get(ctx, "orders")
	require.NoError(t, err)

	m.Invalidate(ctx, "orders")

	m.mu.RLock()
	_, ok := m.local["orders"]
	m.mu.RUnlock()
	assert.False(t, ok)
}
