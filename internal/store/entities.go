package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	ierrors "github.com/Aman-CERP/indexsync/internal/errors"
)

// DefaultDriver is the database/sql driver used by OpenEntityStore.
const DefaultDriver = "sqlite"

// Entity is one row of the backing data store.
type Entity struct {
	Type   string
	ID     int64
	Fields map[string]string
}

// EntityStore is the authoritative entity data the indexes are rebuilt from.
type EntityStore struct {
	db *sql.DB
}

// OpenEntityStore opens the SQLite entity database at path.
// If path is empty, an in-memory database is used.
func OpenEntityStore(path string) (*EntityStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, ierrors.New(ierrors.ErrCodeFilePermission, "failed to create entity store directory", err)
		}
		dsn = path
	}
	return OpenEntityStoreWithDriver(DefaultDriver, dsn)
}

// OpenEntityStoreWithDriver opens an entity store through any registered
// SQLite database/sql driver.
func OpenEntityStoreWithDriver(driver, dsn string) (*EntityStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeEntityStore, "failed to open entity store", err)
	}

	// Single connection: in-memory databases are per connection, and SQLite
	// allows one writer anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, ierrors.New(ierrors.ErrCodeEntityStore, "failed to set pragma", err)
		}
	}

	const schema = `
	CREATE TABLE IF NOT EXISTS entities (
		entity_type TEXT NOT NULL,
		id INTEGER NOT NULL,
		fields TEXT NOT NULL,
		PRIMARY KEY (entity_type, id)
	);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, ierrors.New(ierrors.ErrCodeEntityStore, "failed to initialize schema", err)
	}

	return &EntityStore{db: db}, nil
}

// Close closes the database.
func (s *EntityStore) Close() error {
	return s.db.Close()
}

// Save inserts or replaces an entity.
func (s *EntityStore) Save(ctx context.Context, e Entity) error {
	fields, err := json.Marshal(e.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields of %s#%d: %w", e.Type, e.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (entity_type, id, fields) VALUES (?, ?, ?)
		ON CONFLICT (entity_type, id) DO UPDATE SET fields = excluded.fields`,
		e.Type, e.ID, string(fields))
	if err != nil {
		return ierrors.New(ierrors.ErrCodeEntityStore, fmt.Sprintf("failed to save %s#%d", e.Type, e.ID), err)
	}
	return nil
}

// Delete removes an entity. Deleting a missing entity is not an error.
func (s *EntityStore) Delete(ctx context.Context, entityType string, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE entity_type = ? AND id = ?`, entityType, id)
	if err != nil {
		return ierrors.New(ierrors.ErrCodeEntityStore, fmt.Sprintf("failed to delete %s#%d", entityType, id), err)
	}
	return nil
}

// Get loads one entity.
func (s *EntityStore) Get(ctx context.Context, entityType string, id int64) (Entity, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT fields FROM entities WHERE entity_type = ? AND id = ?`, entityType, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return Entity{}, false, nil
	}
	if err != nil {
		return Entity{}, false, ierrors.New(ierrors.ErrCodeEntityStore, fmt.Sprintf("failed to load %s#%d", entityType, id), err)
	}
	e := Entity{Type: entityType, ID: id}
	if err := json.Unmarshal([]byte(raw), &e.Fields); err != nil {
		return Entity{}, false, ierrors.New(ierrors.ErrCodeEntityStore, fmt.Sprintf("corrupt fields for %s#%d", entityType, id), err)
	}
	return e, true, nil
}

// Types lists the entity types present in the store.
func (s *EntityStore) Types(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT entity_type FROM entities ORDER BY entity_type`)
	if err != nil {
		return nil, ierrors.New(ierrors.ErrCodeEntityStore, "failed to list entity types", err)
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, ierrors.New(ierrors.ErrCodeEntityStore, "failed to scan entity type", err)
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

// Count returns the number of entities of a type.
func (s *EntityStore) Count(ctx context.Context, entityType string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities WHERE entity_type = ?`, entityType).Scan(&n)
	if err != nil {
		return 0, ierrors.New(ierrors.ErrCodeEntityStore, "failed to count "+entityType, err)
	}
	return n, nil
}

// KeyRange returns the smallest and largest id of a type. ok is false when
// the type has no rows.
func (s *EntityStore) KeyRange(ctx context.Context, entityType string) (lo, hi int64, ok bool, err error) {
	var minID, maxID sql.NullInt64
	err = s.db.QueryRowContext(ctx,
		`SELECT MIN(id), MAX(id) FROM entities WHERE entity_type = ?`, entityType).Scan(&minID, &maxID)
	if err != nil {
		return 0, 0, false, ierrors.New(ierrors.ErrCodeEntityStore, "failed to read key range of "+entityType, err)
	}
	if !minID.Valid {
		return 0, 0, false, nil
	}
	return minID.Int64, maxID.Int64, true, nil
}

// StreamRange calls fn for every entity of a type with start <= id < end, in
// id order. Rows deleted since the range was computed are simply absent.
func (s *EntityStore) StreamRange(ctx context.Context, entityType string, start, end int64, fn func(Entity) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, fields FROM entities
		WHERE entity_type = ? AND id >= ? AND id < ?
		ORDER BY id`, entityType, start, end)
	if err != nil {
		return ierrors.New(ierrors.ErrCodeEntityStore, "failed to load "+entityType, err)
	}

	// Drain before calling fn: the store has a single connection and fn may
	// need it to resolve related entities.
	var batch []Entity
	for rows.Next() {
		var raw string
		e := Entity{Type: entityType}
		if err := rows.Scan(&e.ID, &raw); err != nil {
			_ = rows.Close()
			return ierrors.New(ierrors.ErrCodeEntityStore, "failed to scan "+entityType, err)
		}
		if err := json.Unmarshal([]byte(raw), &e.Fields); err != nil {
			_ = rows.Close()
			return ierrors.New(ierrors.ErrCodeEntityStore, fmt.Sprintf("corrupt fields for %s#%d", entityType, e.ID), err)
		}
		batch = append(batch, e)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return ierrors.New(ierrors.ErrCodeEntityStore, "failed to load "+entityType, err)
	}
	_ = rows.Close()

	for _, e := range batch {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}
