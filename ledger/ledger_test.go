package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"xorkevin.dev/klog"
	"xorkevin.dev/nsxrepair/deshuffle"
	"xorkevin.dev/nsxrepair/ledger/ledgerdbmodel"
)

func TestLedger(t *testing.T) {
	t.Parallel()

	assert := require.New(t)

	rootDir := t.TempDir()
	dataDir := filepath.ToSlash(filepath.Join(rootDir, "nsxrepair"))

	ledger := New(klog.Discard{}, dataDir)

	outputs := map[string]string{
		"a.ns5": "repaired recording a",
		"b.ns5": "repaired recording b",
		"c.ns5": "repaired recording c",
	}
	start := time.Date(2024, time.March, 14, 9, 0, 0, 0, time.UTC)
	ids := map[string]string{}
	n := 0
	for k, v := range outputs {
		name := filepath.Join(rootDir, k)
		assert.NoError(os.WriteFile(name, []byte(v), 0o644))
		sum, err := ledger.Checksum(strings.NewReader(v))
		assert.NoError(err)
		assert.NotEmpty(sum)
		id, err := ledger.Record(context.Background(), Run{
			InputPath:      name + ".orig",
			InputSize:      int64(len(v)),
			InputChecksum:  sum,
			OutputPath:     name,
			OutputChecksum: sum,
			Status:         deshuffle.StatusRepaired,
			Triples:        []deshuffle.Triple{{A: 2, B: 3, C: 6}},
			Segments:       11,
			StartedAt:      start.Add(time.Duration(n) * time.Minute),
			FinishedAt:     start.Add(time.Duration(n)*time.Minute + time.Second),
		})
		assert.NoError(err)
		ids[k] = id
		n++
	}
	// failed runs have no output to verify
	_, err := ledger.Record(context.Background(), Run{
		InputPath:  filepath.Join(rootDir, "bad.ns5"),
		Status:     deshuffle.StatusFailed,
		StartedAt:  start.Add(time.Hour),
		FinishedAt: start.Add(time.Hour),
		Message:    "Unrecognized corruption pattern",
	})
	assert.NoError(err)

	m, err := ledger.Get(context.Background(), ids["a.ns5"])
	assert.NoError(err)
	assert.Equal(filepath.Join(rootDir, "a.ns5"), m.OutputPath)
	assert.Equal(string(deshuffle.StatusRepaired), m.Status)
	assert.Equal(`[{"a":2,"b":3,"c":6}]`, m.Triples)
	assert.Equal(11, m.Segments)

	_, err = ledger.Get(context.Background(), "bogus")
	assert.ErrorIs(err, ErrNotFound)

	{
		var b bytes.Buffer
		assert.NoError(ledger.Export(context.Background(), &b))
		count := 0
		var last int64
		j := json.NewDecoder(&b)
		for j.More() {
			var entry ledgerdbmodel.Model
			assert.NoError(j.Decode(&entry))
			assert.GreaterOrEqual(entry.StartedAt, last)
			last = entry.StartedAt
			count++
		}
		assert.Equal(len(outputs)+1, count)
	}

	{
		res, err := ledger.Verify(context.Background())
		assert.NoError(err)
		assert.Len(res, len(outputs))
		for _, i := range res {
			assert.Equal(VerifyStatusOK, i.Status)
		}
	}

	assert.NoError(os.WriteFile(filepath.Join(rootDir, "b.ns5"), []byte("tampered"), 0o644))
	assert.NoError(os.Remove(filepath.Join(rootDir, "c.ns5")))

	{
		res, err := ledger.Verify(context.Background())
		assert.NoError(err)
		statuses := map[string]string{}
		for _, i := range res {
			statuses[i.ID] = i.Status
		}
		assert.Equal(VerifyStatusOK, statuses[ids["a.ns5"]])
		assert.Equal(VerifyStatusMismatch, statuses[ids["b.ns5"]])
		assert.Equal(VerifyStatusMissing, statuses[ids["c.ns5"]])

		m, err := ledger.Get(context.Background(), ids["b.ns5"])
		assert.NoError(err)
		assert.Equal(VerifyStatusMismatch, m.VerifyStatus)
		assert.NotZero(m.VerifiedAt)
	}
}

func TestLedgerPaging(t *testing.T) {
	t.Parallel()

	assert := require.New(t)

	ledger := New(klog.Discard{}, filepath.ToSlash(t.TempDir()))
	start := time.Date(2024, time.March, 14, 9, 0, 0, 0, time.UTC)
	total := sqliteRunBatch*2 + 5
	for i := range total {
		_, err := ledger.Record(context.Background(), Run{
			InputPath: "in.ns5",
			Status:    deshuffle.StatusNoop,
			// pairs of runs share a start time
			StartedAt: start.Add(time.Duration(i/2) * time.Second),
		})
		assert.NoError(err)
	}

	var b bytes.Buffer
	assert.NoError(ledger.Export(context.Background(), &b))
	seen := map[string]struct{}{}
	j := json.NewDecoder(&b)
	for j.More() {
		var entry ledgerdbmodel.Model
		assert.NoError(j.Decode(&entry))
		assert.NotContains(seen, entry.ID)
		seen[entry.ID] = struct{}{}
	}
	assert.Len(seen, total)
}
