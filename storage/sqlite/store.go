// Package sqlite persists encoded document updates in SQLite, one row per
// update, so a document can be rebuilt by replaying its rows in order.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	stdSync "sync"
	"time"

	crdtkit "github.com/c0deZ3R0/go-crdt-kit"
	"github.com/c0deZ3R0/go-crdt-kit/codec"
	kiterrors "github.com/c0deZ3R0/go-crdt-kit/errors"
	"github.com/c0deZ3R0/go-crdt-kit/logging"

	// Go SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

var ErrStoreClosed = errors.New("store is closed")

// Config holds configuration options for the UpdateStore.
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	// Example: "file:updates.db?_journal_mode=WAL"
	DataSourceName string

	// EnableWAL enables Write-Ahead Logging mode for better concurrency.
	// When true, automatically appends "?_journal_mode=WAL" to DataSourceName.
	EnableWAL bool

	// Logger receives diagnostics. Defaults to logging.Default().
	Logger *logging.Logger

	// TableName is the table updates are stored in. Defaults to "updates".
	TableName string

	// Connection pool settings.
	// Defaults: MaxOpen=25, MaxIdle=5, Lifetime=1h, IdleTime=5m
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// setDefaults applies default values to the config
func (c *Config) setDefaults() {
	if c.TableName == "" {
		c.TableName = "updates"
	}
	if c.Logger == nil {
		c.Logger = logging.Default()
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.EnableWAL {
		if !strings.Contains(c.DataSourceName, "?_journal_mode=") {
			c.DataSourceName += "?_journal_mode=WAL"
		}
	}
}

// DefaultConfig returns a Config with production-ready defaults: WAL mode
// enabled, standard pool sizing, table name "updates".
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
	config.setDefaults()
	return config
}

// StoredUpdate is one persisted update row.
type StoredUpdate struct {
	Seq     int64
	DocGUID string
	Format  codec.Format
	Payload []byte
}

// UpdateStore is an append-only log of encoded document updates backed by
// SQLite.
type UpdateStore struct {
	db        *sql.DB
	mu        stdSync.RWMutex
	closed    bool
	logger    *logging.Logger
	tableName string
}

// New creates an UpdateStore from a Config and prepares the schema.
func New(config *Config) (*UpdateStore, error) {
	config.setDefaults()
	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, kiterrors.NewStorageError(kiterrors.OpStore, fmt.Errorf("open database: %w", err))
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	s := &UpdateStore{
		db:        db,
		logger:    config.Logger.WithComponent("sqlite_store"),
		tableName: config.TableName,
	}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDataSource is a convenience constructor with default config.
func NewWithDataSource(dataSourceName string) (*UpdateStore, error) {
	return New(DefaultConfig(dataSourceName))
}

func (s *UpdateStore) createSchema() error {
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			doc_guid   TEXT NOT NULL,
			format     INTEGER NOT NULL,
			payload    BLOB NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_doc_guid ON %[1]s(doc_guid, seq);
	`, s.tableName)
	if _, err := s.db.Exec(schema); err != nil {
		return kiterrors.NewStorageError(kiterrors.OpStore, fmt.Errorf("create schema: %w", err))
	}
	return nil
}

func (s *UpdateStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return kiterrors.NewStorageError(kiterrors.OpStore, ErrStoreClosed)
	}
	return nil
}

// Append persists one encoded update for the given document.
func (s *UpdateStore) Append(ctx context.Context, docGUID string, format codec.Format, payload []byte) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	query := fmt.Sprintf("INSERT INTO %s (doc_guid, format, payload) VALUES (?, ?, ?)", s.tableName)
	if _, err := s.db.ExecContext(ctx, query, docGUID, int(format), payload); err != nil {
		return kiterrors.NewStorageError(kiterrors.OpStore, fmt.Errorf("insert update: %w", err))
	}
	return nil
}

// Load returns all stored updates for a document in append order.
func (s *UpdateStore) Load(ctx context.Context, docGUID string) ([]StoredUpdate, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT seq, format, payload FROM %s WHERE doc_guid = ? ORDER BY seq", s.tableName)
	rows, err := s.db.QueryContext(ctx, query, docGUID)
	if err != nil {
		return nil, kiterrors.NewStorageError(kiterrors.OpLoad, fmt.Errorf("query updates: %w", err))
	}
	defer rows.Close()

	var updates []StoredUpdate
	for rows.Next() {
		u := StoredUpdate{DocGUID: docGUID}
		var format int
		if err := rows.Scan(&u.Seq, &format, &u.Payload); err != nil {
			return nil, kiterrors.NewStorageError(kiterrors.OpLoad, fmt.Errorf("scan update: %w", err))
		}
		u.Format = codec.Format(format)
		updates = append(updates, u)
	}
	if err := rows.Err(); err != nil {
		return nil, kiterrors.NewStorageError(kiterrors.OpLoad, err)
	}
	return updates, nil
}

// LoadInto replays all stored updates for doc.GUID() into the document and
// returns how many were applied. Origin tags the resulting update events.
func (s *UpdateStore) LoadInto(ctx context.Context, doc *crdtkit.Document, origin string) (int, error) {
	updates, err := s.Load(ctx, doc.GUID())
	if err != nil {
		return 0, err
	}
	for i, u := range updates {
		switch u.Format {
		case codec.FormatV2:
			err = doc.ApplyUpdateV2(u.Payload, origin)
		default:
			err = doc.ApplyUpdateV1(u.Payload, origin)
		}
		if err != nil {
			// Keep the inner code: a corrupt row is a decoding failure, not
			// a retryable storage failure.
			return i, kiterrors.Wrap(fmt.Errorf("apply stored update seq %d: %w", u.Seq, err),
				kiterrors.OpLoad, "store")
		}
	}
	return len(updates), nil
}

// Compact replaces the document's update rows with a single full-state
// update taken from doc. The swap is transactional: readers see either the
// old rows or the new single row.
func (s *UpdateStore) Compact(ctx context.Context, doc *crdtkit.Document) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.logger.WithDocument(doc.GUID()).LogOperation(ctx, "compact", func() error {
		full, err := doc.EncodeDiffV1(nil)
		if err != nil {
			return kiterrors.NewStorageError(kiterrors.OpCompact, err)
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return kiterrors.NewStorageError(kiterrors.OpCompact, err)
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE doc_guid = ?", s.tableName), doc.GUID()); err != nil {
			return kiterrors.NewStorageError(kiterrors.OpCompact, err)
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s (doc_guid, format, payload) VALUES (?, ?, ?)", s.tableName),
			doc.GUID(), int(codec.FormatV1), full); err != nil {
			return kiterrors.NewStorageError(kiterrors.OpCompact, err)
		}
		if err := tx.Commit(); err != nil {
			return kiterrors.NewStorageError(kiterrors.OpCompact, err)
		}
		return nil
	})
}

// Bind loads the stored history into doc and then appends every future
// commit. Cancel the returned subscription to stop persisting. Updates
// produced by the load itself are tagged with the store's origin and not
// re-appended.
func (s *UpdateStore) Bind(ctx context.Context, doc *crdtkit.Document) (*crdtkit.Subscription, error) {
	const origin = "sqlite-store"
	if _, err := s.LoadInto(ctx, doc, origin); err != nil {
		return nil, err
	}
	sub := doc.OnUpdateV1(func(ev crdtkit.UpdateEvent) {
		if ev.Origin == origin {
			return
		}
		if err := s.Append(context.Background(), doc.GUID(), codec.FormatV1, ev.Update); err != nil {
			s.logger.WithDocument(doc.GUID()).LogError(context.Background(), err, "failed to persist update")
		}
	})
	return sub, nil
}

// Close closes the store. Subsequent operations fail with ErrStoreClosed.
func (s *UpdateStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		return kiterrors.NewStorageError(kiterrors.OpClose, err)
	}
	return nil
}
