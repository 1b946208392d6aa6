package ledgerdbmodel

import (
	"context"
	"errors"

	"xorkevin.dev/forge/model/sqldb"
	"xorkevin.dev/kerrors"
)

type (
	// Repo is a repair run repository
	Repo interface {
		New(id string) *Model
		List(ctx context.Context, limit int, after *Cursor) ([]Model, error)
		Get(ctx context.Context, id string) (*Model, error)
		Insert(ctx context.Context, m *Model) error
		UpdateVerified(ctx context.Context, id string, verifiedAt int64, verifyStatus string) error
		Setup(ctx context.Context) error
	}

	repo struct {
		db    sqldb.Executor
		table string
	}

	// Model is a repair run
	Model struct {
		ID             string `json:"id"`
		InputPath      string `json:"input_path"`
		InputSize      int64  `json:"input_size"`
		InputChecksum  string `json:"input_checksum"`
		OutputPath     string `json:"output_path"`
		OutputChecksum string `json:"output_checksum"`
		Status         string `json:"status"`
		Triples        string `json:"triples"`
		Segments       int    `json:"segments"`
		StartedAt      int64  `json:"started_at"`
		FinishedAt     int64  `json:"finished_at"`
		VerifiedAt     int64  `json:"verified_at"`
		VerifyStatus   string `json:"verify_status"`
		Message        string `json:"message"`
	}

	// Cursor is a list position ordered by start time then id
	Cursor struct {
		StartedAt int64
		ID        string
	}
)

const (
	modelColumns = "id, input_path, input_size, input_checksum, output_path, output_checksum, status, triples, segments, started_at, finished_at, verified_at, verify_status, message"
)

func New(database sqldb.Executor, table string) Repo {
	return &repo{
		db:    database,
		table: table,
	}
}

func (r *repo) New(id string) *Model {
	return &Model{
		ID: id,
	}
}

type (
	scanner interface {
		Scan(dest ...any) error
	}
)

func scanModel(s scanner) (*Model, error) {
	var m Model
	if err := s.Scan(
		&m.ID,
		&m.InputPath,
		&m.InputSize,
		&m.InputChecksum,
		&m.OutputPath,
		&m.OutputChecksum,
		&m.Status,
		&m.Triples,
		&m.Segments,
		&m.StartedAt,
		&m.FinishedAt,
		&m.VerifiedAt,
		&m.VerifyStatus,
		&m.Message,
	); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *repo) List(ctx context.Context, limit int, after *Cursor) (_ []Model, retErr error) {
	var rows sqldb.Rows
	var err error
	if after == nil {
		rows, err = r.db.QueryContext(ctx, "SELECT "+modelColumns+" FROM "+r.table+" ORDER BY started_at, id LIMIT $1;", limit)
	} else {
		rows, err = r.db.QueryContext(ctx, "SELECT "+modelColumns+" FROM "+r.table+" WHERE (started_at, id) > ($1, $2) ORDER BY started_at, id LIMIT $3;", after.StartedAt, after.ID, limit)
	}
	if err != nil {
		return nil, kerrors.WithMsg(err, "Failed to get runs")
	}
	defer func() {
		if err := rows.Close(); err != nil {
			retErr = errors.Join(retErr, kerrors.WithMsg(err, "Failed to close db rows"))
		}
	}()
	res := make([]Model, 0, limit)
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, kerrors.WithMsg(err, "Failed to scan run")
		}
		res = append(res, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, kerrors.WithMsg(err, "Failed to iterate runs")
	}
	return res, nil
}

func (r *repo) Get(ctx context.Context, id string) (*Model, error) {
	m, err := scanModel(r.db.QueryRowContext(ctx, "SELECT "+modelColumns+" FROM "+r.table+" WHERE id = $1;", id))
	if err != nil {
		return nil, kerrors.WithMsg(err, "Failed to get run")
	}
	return m, nil
}

func (r *repo) Insert(ctx context.Context, m *Model) error {
	if _, err := r.db.ExecContext(ctx, "INSERT INTO "+r.table+" ("+modelColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14);",
		m.ID,
		m.InputPath,
		m.InputSize,
		m.InputChecksum,
		m.OutputPath,
		m.OutputChecksum,
		m.Status,
		m.Triples,
		m.Segments,
		m.StartedAt,
		m.FinishedAt,
		m.VerifiedAt,
		m.VerifyStatus,
		m.Message,
	); err != nil {
		return kerrors.WithMsg(err, "Failed to insert run")
	}
	return nil
}

func (r *repo) UpdateVerified(ctx context.Context, id string, verifiedAt int64, verifyStatus string) error {
	if _, err := r.db.ExecContext(ctx, "UPDATE "+r.table+" SET (verified_at, verify_status) = ($1, $2) WHERE id = $3;", verifiedAt, verifyStatus, id); err != nil {
		return kerrors.WithMsg(err, "Failed to update run")
	}
	return nil
}

func (r *repo) Setup(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS "+r.table+" ("+
		"id VARCHAR(63) PRIMARY KEY, "+
		"input_path VARCHAR(4095) NOT NULL, "+
		"input_size BIGINT NOT NULL, "+
		"input_checksum VARCHAR(2047) NOT NULL, "+
		"output_path VARCHAR(4095) NOT NULL, "+
		"output_checksum VARCHAR(2047) NOT NULL, "+
		"status VARCHAR(255) NOT NULL, "+
		"triples TEXT NOT NULL, "+
		"segments BIGINT NOT NULL, "+
		"started_at BIGINT NOT NULL, "+
		"finished_at BIGINT NOT NULL, "+
		"verified_at BIGINT NOT NULL, "+
		"verify_status VARCHAR(255) NOT NULL, "+
		"message TEXT NOT NULL"+
		");"); err != nil {
		return kerrors.WithMsg(err, "Failed to setup run table")
	}
	if _, err := r.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS "+r.table+"_started_at_index ON "+r.table+" (started_at, id);"); err != nil {
		return kerrors.WithMsg(err, "Failed to setup run table index")
	}
	return nil
}
