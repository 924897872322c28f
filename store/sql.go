// Package store provides a SQL-backed entity.Store for hosts that persist
// entities in a relational database. Each entity type is bound to a table
// and a row-to-entity binder; lookups re-read the row by primary key so
// snapshots always reflect committed state.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/mattn/go-sqlite3"

	"github.com/riverfall/changefeed/entity"
)

const sqlCacheSize = 128

// BindFunc turns a scanned row (column name to value) into an entity.
type BindFunc func(row map[string]any) (entity.Entity, error)

type binding struct {
	table string
	bind  BindFunc
}

// SQLStore implements entity.Store over database/sql. Queries are built
// with goqu and cached per table; the store itself is safe for concurrent
// use.
type SQLStore struct {
	db      *sql.DB
	dialect goqu.DialectWrapper

	mu       sync.RWMutex
	bindings map[string]binding

	sqlCache *lru.Cache[string, string]
}

// Open opens (or creates) a SQLite-backed store at path. WAL mode keeps
// concurrent readers from blocking the writer.
func Open(path string) (*SQLStore, error) {
	dsn := path
	if !strings.Contains(dsn, ":memory:") {
		if strings.Contains(dsn, "?") {
			dsn += "&_journal_mode=WAL"
		} else {
			dsn += "?_journal_mode=WAL"
		}
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	return NewSQLStore(db, "sqlite3")
}

// NewSQLStore wraps an existing database handle.
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	cache, err := lru.New[string, string](sqlCacheSize)
	if err != nil {
		return nil, err
	}

	return &SQLStore{
		db:       db,
		dialect:  goqu.Dialect(dialect),
		bindings: make(map[string]binding),
		sqlCache: cache,
	}, nil
}

// Bind registers the table and binder for an entity type. Lookups for
// unbound types fail, which the serializer treats as "no snapshot".
func (s *SQLStore) Bind(entityType, table string, bind BindFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bindings[entityType] = binding{table: table, bind: bind}
}

// DB exposes the underlying handle for the host's own queries.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Get re-reads the entity's row by primary key and binds it.
func (s *SQLStore) Get(ctx context.Context, entityType string, id int64) (entity.Entity, error) {
	s.mu.RLock()
	b, ok := s.bindings[entityType]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no table bound for entity type %s", entityType)
	}

	query, err := s.selectSQL(b.table)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", b.table, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("entity %s/%d not found", entityType, id)
	}

	row, err := scanRow(rows)
	if err != nil {
		return nil, err
	}

	return b.bind(row)
}

// selectSQL builds (and caches) the lookup statement for a table.
func (s *SQLStore) selectSQL(table string) (string, error) {
	if cached, ok := s.sqlCache.Get(table); ok {
		return cached, nil
	}

	// Prepared(true) emits a placeholder for the id; the real value is
	// bound at query time.
	query, _, err := s.dialect.
		From(table).
		Prepared(true).
		Where(goqu.C("id").Eq(int64(0))).
		ToSQL()
	if err != nil {
		return "", fmt.Errorf("failed to build query for %s: %w", table, err)
	}

	s.sqlCache.Add(table, query)
	return query, nil
}

func scanRow(rows *sql.Rows) (map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	values := make([]any, len(columns))
	targets := make([]any, len(columns))
	for i := range values {
		targets[i] = &values[i]
	}

	if err := rows.Scan(targets...); err != nil {
		return nil, err
	}

	row := make(map[string]any, len(columns))
	for i, col := range columns {
		v := values[i]
		// SQLite hands TEXT back as []byte through database/sql.
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		row[col] = v
	}
	return row, nil
}

// Close closes the underlying handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
