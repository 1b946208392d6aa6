// Package ledger records repair runs in a sqlite database
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"xorkevin.dev/hunter2/h2streamhash"
	"xorkevin.dev/hunter2/h2streamhash/blake2bstream"
	"xorkevin.dev/kerrors"
	"xorkevin.dev/klog"
	"xorkevin.dev/nsxrepair/dbsql"
	"xorkevin.dev/nsxrepair/deshuffle"
	"xorkevin.dev/nsxrepair/ledger/ledgerdbmodel"
)

var (
	// ErrNotFound is returned when a run is not found
	ErrNotFound errNotFound
	// ErrMismatch is returned when a recorded checksum no longer matches
	ErrMismatch errMismatch
)

type (
	errNotFound struct{}
	errMismatch struct{}
)

func (e errNotFound) Error() string {
	return "Run not found"
}

func (e errMismatch) Error() string {
	return "Checksum mismatch"
}

const (
	runTable       = "runs"
	sqliteRunBatch = 32

	VerifyStatusOK       = "ok"
	VerifyStatusMismatch = "mismatch"
	VerifyStatusMissing  = "missing"
)

type (
	// Ledger is a store of repair runs
	Ledger struct {
		log      *klog.LevelLogger
		dataDir  string
		hasher   h2streamhash.Hasher
		verifier *h2streamhash.Verifier
	}

	// Run describes a finished repair run
	Run struct {
		InputPath      string
		InputSize      int64
		InputChecksum  string
		OutputPath     string
		OutputChecksum string
		Status         deshuffle.Status
		Triples        []deshuffle.Triple
		Segments       int
		StartedAt      time.Time
		FinishedAt     time.Time
		Message        string
	}

	// VerifyResult is the verification outcome of a single run
	VerifyResult struct {
		ID         string `json:"id"`
		OutputPath string `json:"output_path"`
		Status     string `json:"status"`
	}
)

// New creates a new ledger stored in dataDir
func New(log klog.Logger, dataDir string) *Ledger {
	hasher := blake2bstream.NewHasher(blake2bstream.Config{})
	verifier := h2streamhash.NewVerifier()
	verifier.Register(hasher)
	return &Ledger{
		log:      klog.NewLevelLogger(log),
		dataDir:  dataDir,
		hasher:   hasher,
		verifier: verifier,
	}
}

// Hash returns a new streaming checksum
func (l *Ledger) Hash() (h2streamhash.Hash, error) {
	h, err := l.hasher.Hash()
	if err != nil {
		return nil, kerrors.WithMsg(err, "Failed creating hash")
	}
	return h, nil
}

// Checksum computes the checksum of the contents of r
func (l *Ledger) Checksum(r io.Reader) (string, error) {
	h, err := l.Hash()
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", kerrors.WithMsg(err, "Failed reading content")
	}
	if err := h.Close(); err != nil {
		return "", kerrors.WithMsg(err, "Failed closing stream hash")
	}
	return h.Sum(), nil
}

func (l *Ledger) getRunsRepo(ctx context.Context, mode string) (ledgerdbmodel.Repo, *dbsql.SQLClient, error) {
	dbDir := path.Join(l.dataDir, "db")
	if mode == "rwc" {
		if err := os.MkdirAll(filepath.FromSlash(dbDir), 0o777); err != nil {
			return nil, nil, kerrors.WithMsg(err, "Failed to create db dir")
		}
	}
	// url must be in the form of
	// file:rel/path/to/file.db?optquery=value&otheroptquery=value
	u := url.URL{
		Scheme: "file",
		Opaque: path.Join(dbDir, "ledger.db"),
	}
	q := u.Query()
	q.Set("mode", mode)
	u.RawQuery = q.Encode()
	d := dbsql.NewSQLClient(l.log.Logger.Sublogger("db"), u.String())
	if err := d.Init(); err != nil {
		return nil, nil, kerrors.WithMsg(err, "Failed to init sqlite db client")
	}

	l.log.Debug(ctx, "Using ledger db",
		klog.AString("db.engine", "sqlite"),
		klog.AString("db.file", u.Opaque),
	)

	runs := ledgerdbmodel.New(d, runTable)
	if mode == "rwc" {
		if err := runs.Setup(ctx); err != nil {
			return nil, nil, errors.Join(kerrors.WithMsg(err, "Failed setting up runs table"), d.Close())
		}
	}
	return runs, d, nil
}

func closeDB(d *dbsql.SQLClient, retErr *error) {
	if err := d.Close(); err != nil {
		*retErr = errors.Join(*retErr, kerrors.WithMsg(err, "Failed to close ledger db"))
	}
}

// Record stores a run and returns its id
func (l *Ledger) Record(ctx context.Context, run Run) (_ string, retErr error) {
	runs, d, err := l.getRunsRepo(ctx, "rwc")
	if err != nil {
		return "", err
	}
	defer closeDB(d, &retErr)

	u, err := uuid.NewRandom()
	if err != nil {
		return "", kerrors.WithMsg(err, "Failed to generate run id")
	}
	triples, err := json.Marshal(run.Triples)
	if err != nil {
		return "", kerrors.WithMsg(err, "Failed to encode triples")
	}
	m := runs.New(u.String())
	m.InputPath = run.InputPath
	m.InputSize = run.InputSize
	m.InputChecksum = run.InputChecksum
	m.OutputPath = run.OutputPath
	m.OutputChecksum = run.OutputChecksum
	m.Status = string(run.Status)
	m.Triples = string(triples)
	m.Segments = run.Segments
	m.StartedAt = run.StartedAt.Round(0).UnixMilli()
	m.FinishedAt = run.FinishedAt.Round(0).UnixMilli()
	m.Message = run.Message
	if err := runs.Insert(ctx, m); err != nil {
		return "", kerrors.WithMsg(err, "Failed recording run")
	}
	l.log.Info(ctx, "Recorded run",
		klog.AString("run.id", m.ID),
		klog.AString("run.status", m.Status),
	)
	return m.ID, nil
}

// Get returns a recorded run
func (l *Ledger) Get(ctx context.Context, id string) (_ *ledgerdbmodel.Model, retErr error) {
	runs, d, err := l.getRunsRepo(ctx, "ro")
	if err != nil {
		return nil, err
	}
	defer closeDB(d, &retErr)

	m, err := runs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, dbsql.ErrNotFound) {
			return nil, kerrors.WithKind(err, ErrNotFound, fmt.Sprintf("Run %s not found", id))
		}
		return nil, err
	}
	return m, nil
}

func (l *Ledger) forEach(ctx context.Context, runs ledgerdbmodel.Repo, f func(m ledgerdbmodel.Model) error) error {
	var cursor *ledgerdbmodel.Cursor
	for {
		m, err := runs.List(ctx, sqliteRunBatch, cursor)
		if err != nil {
			return kerrors.WithMsg(err, "Failed to list runs")
		}
		for _, i := range m {
			if err := f(i); err != nil {
				return err
			}
		}
		if len(m) < sqliteRunBatch {
			return nil
		}
		last := m[len(m)-1]
		cursor = &ledgerdbmodel.Cursor{
			StartedAt: last.StartedAt,
			ID:        last.ID,
		}
	}
}

// Export writes every run to w as json lines
func (l *Ledger) Export(ctx context.Context, w io.Writer) (retErr error) {
	runs, d, err := l.getRunsRepo(ctx, "ro")
	if err != nil {
		return err
	}
	defer closeDB(d, &retErr)

	j := json.NewEncoder(w)
	return l.forEach(ctx, runs, func(m ledgerdbmodel.Model) error {
		if err := j.Encode(m); err != nil {
			return kerrors.WithMsg(err, "Failed writing run")
		}
		return nil
	})
}

// Verify recomputes the checksum of every recorded output
func (l *Ledger) Verify(ctx context.Context) (_ []VerifyResult, retErr error) {
	runs, d, err := l.getRunsRepo(ctx, "rw")
	if err != nil {
		return nil, err
	}
	defer closeDB(d, &retErr)

	var checked []ledgerdbmodel.Model
	if err := l.forEach(ctx, runs, func(m ledgerdbmodel.Model) error {
		if m.OutputChecksum != "" {
			checked = append(checked, m)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	res := make([]VerifyResult, 0, len(checked))
	for _, i := range checked {
		status := VerifyStatusOK
		if err := l.verifyFile(i.OutputPath, i.OutputChecksum); err != nil {
			switch {
			case errors.Is(err, os.ErrNotExist):
				status = VerifyStatusMissing
			case errors.Is(err, ErrMismatch):
				status = VerifyStatusMismatch
			default:
				return nil, kerrors.WithMsg(err, fmt.Sprintf("Failed verifying output %s", i.OutputPath))
			}
			l.log.Warn(ctx, "Output failed verification",
				klog.AString("run.id", i.ID),
				klog.AString("path", i.OutputPath),
				klog.AString("verify", status),
			)
		}
		if err := runs.UpdateVerified(ctx, i.ID, time.Now().Round(0).UnixMilli(), status); err != nil {
			return nil, kerrors.WithMsg(err, "Failed updating run")
		}
		res = append(res, VerifyResult{
			ID:         i.ID,
			OutputPath: i.OutputPath,
			Status:     status,
		})
	}
	return res, nil
}

func (l *Ledger) verifyFile(name string, checksum string) (retErr error) {
	h, err := l.verifier.Verify(checksum)
	if err != nil {
		return kerrors.WithMsg(err, "Failed creating hash")
	}
	f, err := os.Open(name)
	if err != nil {
		return kerrors.WithMsg(err, "Failed opening file")
	}
	defer func() {
		if err := f.Close(); err != nil {
			retErr = errors.Join(retErr, kerrors.WithMsg(err, "Failed to close file"))
		}
	}()
	if _, err := io.Copy(h, f); err != nil {
		return kerrors.WithMsg(err, "Failed reading file")
	}
	if err := h.Close(); err != nil {
		return kerrors.WithMsg(err, "Failed closing stream hash")
	}
	if ok, err := h.Verify(checksum); err != nil {
		return kerrors.WithMsg(err, "Failed verifying checksum")
	} else if !ok {
		return kerrors.WithKind(nil, ErrMismatch, "Checksum does not match")
	}
	return nil
}
