package schema

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const cacheKeyPrefix = "sqlagent:schema:"

// Manager serves table schemas for prompt building and query validation.
// Lookups hit, in order: the in-process cache, the shared cache (if any),
// the built-in sales_data schema, and finally warehouse introspection.
type Manager struct {
	warehouse *sql.DB
	driver    string
	cache     Cache
	ttl       time.Duration
	logger    *logrus.Logger

	mu    sync.RWMutex
	local map[string]Table
}

// NewManager creates a schema manager. cache may be nil.
func NewManager(warehouse *sql.DB, driver string, cache Cache, ttl time.Duration, logger *logrus.Logger) *Manager {
	return &Manager{
		warehouse: warehouse,
		driver:    driver,
		cache:     cache,
		ttl:       ttl,
		logger:    logger,
		local:     make(map[string]Table),
	}
}

// Get returns the schema for a table.
func (m *Manager) Get(ctx context.Context, tableName string) (Table, error) {
	if tableName == "" {
		return Table{}, fmt.Errorf("table name cannot be empty")
	}

	m.mu.RLock()
	if tbl, ok := m.local[tableName]; ok {
		m.mu.RUnlock()
		return tbl, nil
	}
	m.mu.RUnlock()

	if tbl, ok := m.fromSharedCache(ctx, tableName); ok {
		m.store(ctx, tbl, false)
		return tbl, nil
	}

	var tbl Table
	var err error
	if tableName == "sales_data" {
		tbl = DefaultSalesTable()
	} else {
		tbl, err = m.introspect(ctx, tableName)
		if err != nil {
			return Table{}, fmt.Errorf("failed to get schema for %s: %w", tableName, err)
		}
	}

	m.store(ctx, tbl, true)
	return tbl, nil
}

// Tables returns the catalog of warehouse tables with their schemas.
// Internal bookkeeping tables are excluded.
func (m *Manager) Tables(ctx context.Context) ([]Table, error) {
	names, err := m.tableNames(ctx)
	if err != nil {
		return nil, err
	}

	tables := make([]Table, 0, len(names))
	for _, name := range names {
		tbl, err := m.Get(ctx, name)
		if err != nil {
			m.logger.WithError(err).WithField("table", name).Warn("Skipping table with unreadable schema")
			continue
		}
		tbl.Rows = m.countRows(ctx, name)
		tables = append(tables, tbl)
	}
	return tables, nil
}

// Invalidate drops a table from both cache layers.
func (m *Manager) Invalidate(ctx context.Context, tableName string) {
	m.mu.Lock()
	delete(m.local, tableName)
	m.mu.Unlock()

	if m.cache != nil {
		// Overwrite with a short-lived empty entry rather than adding a Delete
		// to the Cache interface; Get treats it as a miss.
		if err := m.cache.Set(ctx, cacheKeyPrefix+tableName, "", time.Second); err != nil {
			m.logger.WithError(err).Warn("Failed to invalidate shared schema cache")
		}
	}
}

func (m *Manager) fromSharedCache(ctx context.Context, tableName string) (Table, bool) {
	if m.cache == nil {
		return Table{}, false
	}

	raw, err := m.cache.Get(ctx, cacheKeyPrefix+tableName)
	if err != nil || raw == "" {
		return Table{}, false
	}

	var tbl Table
	if err := json.Unmarshal([]byte(raw), &tbl); err != nil {
		m.logger.WithError(err).WithField("table", tableName).Warn("Dropping corrupt schema cache entry")
		return Table{}, false
	}
	return tbl, true
}

func (m *Manager) store(ctx context.Context, tbl Table, shared bool) {
	m.mu.Lock()
	m.local[tbl.Name] = tbl
	m.mu.Unlock()

	if !shared || m.cache == nil {
		return
	}

	raw, err := json.Marshal(tbl)
	if err != nil {
		return
	}
	// Cache failures degrade to the in-process copy, never fail a lookup.
	if err := m.cache.Set(ctx, cacheKeyPrefix+tbl.Name, string(raw), m.ttl); err != nil {
		m.logger.WithError(err).WithField("table", tbl.Name).Warn("Failed to write schema to shared cache")
	}
}

// introspect reads column metadata from the warehouse.
func (m *Manager) introspect(ctx context.Context, tableName string) (Table, error) {
	switch m.driver {
	case "postgres":
		return m.introspectPostgres(ctx, tableName)
	case "sqlite", "sqlite3":
		return m.introspectSQLite(ctx, tableName)
	default:
		return Table{}, fmt.Errorf("unsupported warehouse driver: %s", m.driver)
	}
}

func (m *Manager) introspectPostgres(ctx context.Context, tableName string) (Table, error) {
	rows, err := m.warehouse.QueryContext(ctx, `
		SELECT column_name, data_type
		FROM information_schema.columns
		WHERE table_name = $1
		ORDER BY ordinal_position`, tableName)
	if err != nil {
		return Table{}, err
	}
	defer rows.Close()

	tbl := Table{Name: tableName}
	for rows.Next() {
		var col Column
		if err := rows.Scan(&col.Name, &col.Type); err != nil {
			return Table{}, err
		}
		tbl.Columns = append(tbl.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return Table{}, err
	}
	if len(tbl.Columns) == 0 {
		return Table{}, fmt.Errorf("table %s not found", tableName)
	}
	return tbl, nil
}

func (m *Manager) introspectSQLite(ctx context.Context, tableName string) (Table, error) {
	rows, err := m.warehouse.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", tableName))
	if err != nil {
		return Table{}, err
	}
	defer rows.Close()

	tbl := Table{Name: tableName}
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return Table{}, err
		}
		tbl.Columns = append(tbl.Columns, Column{Name: name, Type: typ})
	}
	if err := rows.Err(); err != nil {
		return Table{}, err
	}
	if len(tbl.Columns) == 0 {
		return Table{}, fmt.Errorf("table %s not found", tableName)
	}
	return tbl, nil
}

func (m *Manager) tableNames(ctx context.Context) ([]string, error) {
	var query string
	switch m.driver {
	case "postgres":
		query = `SELECT table_name FROM information_schema.tables
			WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
			ORDER BY table_name`
	case "sqlite", "sqlite3":
		query = `SELECT name FROM sqlite_master
			WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
			ORDER BY name`
	default:
		return nil, fmt.Errorf("unsupported warehouse driver: %s", m.driver)
	}

	rows, err := m.warehouse.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list warehouse tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if name == "query_runs" {
			continue
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (m *Manager) countRows(ctx context.Context, tableName string) int64 {
	var count int64
	row := m.warehouse.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %q", tableName))
	if err := row.Scan(&count); err != nil {
		return 0
	}
	return count
}
