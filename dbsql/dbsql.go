package dbsql

import (
	"context"
	"database/sql"
	"errors"

	_ "modernc.org/sqlite"
	"xorkevin.dev/forge/model/sqldb"
	"xorkevin.dev/kerrors"
	"xorkevin.dev/klog"
)

var (
	// ErrNotFound is returned when a row does not exist
	ErrNotFound errNotFound
	// ErrClient is returned when the client has not been initialized
	ErrClient errClient
)

type (
	errNotFound struct{}
	errClient   struct{}
)

func (e errNotFound) Error() string {
	return "Not found"
}

func (e errClient) Error() string {
	return "DB client error"
}

type (
	// SQLClient is a sqlite client
	SQLClient struct {
		log *klog.LevelLogger
		dsn string
		db  *sql.DB
	}

	// Row is a single row result
	Row struct {
		row *sql.Row
	}
)

var _ sqldb.Executor = (*SQLClient)(nil)

// NewSQLClient creates a new sqlite client for a dsn of the form
// file:path/to/file.db?mode=rw
func NewSQLClient(log klog.Logger, dsn string) *SQLClient {
	return &SQLClient{
		log: klog.NewLevelLogger(log),
		dsn: dsn,
	}
}

// Init opens the database
func (s *SQLClient) Init() error {
	db, err := sql.Open("sqlite", s.dsn)
	if err != nil {
		return kerrors.WithKind(err, ErrClient, "Failed to open db")
	}
	// sqlite permits a single writer
	db.SetMaxOpenConns(1)
	if err := db.PingContext(context.Background()); err != nil {
		return errors.Join(kerrors.WithKind(err, ErrClient, "Failed to connect to db"), db.Close())
	}
	s.db = db
	s.log.Debug(context.Background(), "Opened db")
	return nil
}

// Close closes the database
func (s *SQLClient) Close() error {
	if s.db == nil {
		return nil
	}
	db := s.db
	s.db = nil
	if err := db.Close(); err != nil {
		return kerrors.WithKind(err, ErrClient, "Failed to close db")
	}
	return nil
}

func (s *SQLClient) ExecContext(ctx context.Context, query string, args ...any) (sqldb.Result, error) {
	if s.db == nil {
		return nil, kerrors.WithKind(nil, ErrClient, "DB not initialized")
	}
	r, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, kerrors.WithMsg(err, "Failed executing statement")
	}
	return r, nil
}

func (s *SQLClient) QueryContext(ctx context.Context, query string, args ...any) (sqldb.Rows, error) {
	if s.db == nil {
		return nil, kerrors.WithKind(nil, ErrClient, "DB not initialized")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, kerrors.WithMsg(err, "Failed executing query")
	}
	return rows, nil
}

func (s *SQLClient) QueryRowContext(ctx context.Context, query string, args ...any) sqldb.Row {
	if s.db == nil {
		return &Row{}
	}
	return &Row{
		row: s.db.QueryRowContext(ctx, query, args...),
	}
}

// Scan copies the row columns into dest and returns [ErrNotFound] when there
// is no row
func (r *Row) Scan(dest ...any) error {
	if r.row == nil {
		return kerrors.WithKind(nil, ErrClient, "DB not initialized")
	}
	if err := r.row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return kerrors.WithKind(err, ErrNotFound, "Not found")
		}
		return kerrors.WithMsg(err, "Failed scanning row")
	}
	return nil
}

func (r *Row) Err() error {
	if r.row == nil {
		return kerrors.WithKind(nil, ErrClient, "DB not initialized")
	}
	if err := r.row.Err(); err != nil {
		return kerrors.WithMsg(err, "Failed executing query")
	}
	return nil
}
