package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
	"xorkevin.dev/klog"
	"xorkevin.dev/nsxrepair/deshuffle"
	"xorkevin.dev/nsxrepair/ledger"
	"xorkevin.dev/nsxrepair/ledger/ledgerdbmodel"
	"xorkevin.dev/nsxrepair/nsxtest"
)

func newTestCmd() *Cmd {
	return &Cmd{
		log:    klog.NewLevelLogger(klog.Discard{}),
		stdout: &bytes.Buffer{},
	}
}

func writeRecording(t *testing.T, name string, rec nsxtest.Recording) []byte {
	t.Helper()
	b := rec.Bytes()
	require.NoError(t, os.MkdirAll(filepath.Dir(name), 0o777))
	require.NoError(t, os.WriteFile(name, b, 0o644))
	return b
}

var errCloseOutput = errors.New("close output failed")

type (
	failCloseFile struct {
		*os.File
	}
)

func (f failCloseFile) Close() error {
	return errors.Join(f.File.Close(), errCloseOutput)
}

func openFailCloseFile(name string, flag int, perm fs.FileMode) (outputFile, error) {
	f, err := os.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return failCloseFile{File: f}, nil
}

func TestRepairFile(t *testing.T) {
	t.Parallel()

	rootDir := t.TempDir()
	shuffled := nsxtest.Recording{
		ChannelCount: 4,
		Timestamps:   nsxtest.Shuffled(11, 2, 3, 1),
	}
	clean := nsxtest.Recording{
		ChannelCount: 4,
		Timestamps:   []uint64{1, 2, 3, 4, 5},
	}
	shuffledName := filepath.Join(rootDir, "in", "shuffled.ns5")
	cleanName := filepath.Join(rootDir, "in", "clean.ns5")
	shuffledBytes := writeRecording(t, shuffledName, shuffled)
	cleanBytes := writeRecording(t, cleanName, clean)

	t.Run("repair", func(t *testing.T) {
		t.Parallel()

		assert := require.New(t)
		c := newTestCmd()
		dataDir := filepath.ToSlash(filepath.Join(rootDir, "data-repair"))
		l := ledger.New(klog.Discard{}, dataDir)
		output := filepath.Join(rootDir, "repaired.ns5")
		res, err := c.repairFile(context.Background(), shuffledName, output, repairOpts{ledger: l})
		assert.NoError(err)
		assert.Equal(deshuffle.StatusRepaired, res.Status)
		assert.Equal([]deshuffle.Triple{{A: 2, B: 3, C: 6}}, res.Triples)

		out, err := os.ReadFile(output)
		assert.NoError(err)
		assert.Len(out, len(shuffledBytes))
		assert.Equal(shuffledBytes[:shuffled.HeaderBytes()], out[:shuffled.HeaderBytes()])
		assert.NotEqual(shuffledBytes, out)

		// output exists
		_, err = c.repairFile(context.Background(), shuffledName, output, repairOpts{})
		assert.Error(err)
		res, err = c.repairFile(context.Background(), shuffledName, output, repairOpts{force: true})
		assert.NoError(err)
		assert.Equal(deshuffle.StatusRepaired, res.Status)

		var b bytes.Buffer
		assert.NoError(l.Export(context.Background(), &b))
		var entry ledgerdbmodel.Model
		assert.NoError(json.NewDecoder(&b).Decode(&entry))
		assert.Equal(string(deshuffle.StatusRepaired), entry.Status)
		assert.Equal(int64(len(shuffledBytes)), entry.InputSize)
		assert.NotEmpty(entry.InputChecksum)
		assert.NotEmpty(entry.OutputChecksum)

		verified, err := l.Verify(context.Background())
		assert.NoError(err)
		assert.Len(verified, 1)
		assert.Equal(ledger.VerifyStatusOK, verified[0].Status)

		exportName := filepath.Join(rootDir, "export.jsonl")
		assert.NoError(c.exportLedger(context.Background(), l, exportName))
		exported, err := os.ReadFile(exportName)
		assert.NoError(err)
		assert.Equal(1, strings.Count(string(exported), "\n"))
	})

	t.Run("same file", func(t *testing.T) {
		t.Parallel()

		assert := require.New(t)
		c := newTestCmd()
		_, err := c.repairFile(context.Background(), shuffledName, shuffledName, repairOpts{force: true})
		assert.Error(err)
		in, err := os.ReadFile(shuffledName)
		assert.NoError(err)
		assert.Equal(shuffledBytes, in)
	})

	t.Run("clean", func(t *testing.T) {
		t.Parallel()

		assert := require.New(t)
		c := newTestCmd()
		output := filepath.Join(rootDir, "clean-out.ns5")
		res, err := c.repairFile(context.Background(), cleanName, output, repairOpts{})
		assert.NoError(err)
		assert.Equal(deshuffle.StatusNoop, res.Status)
		_, err = os.Stat(output)
		assert.ErrorIs(err, os.ErrNotExist)

		res, err = c.repairFile(context.Background(), cleanName, output, repairOpts{copyIfClean: true})
		assert.NoError(err)
		assert.Equal(deshuffle.StatusNoop, res.Status)
		out, err := os.ReadFile(output)
		assert.NoError(err)
		assert.Equal(cleanBytes, out)
	})

	t.Run("close failure", func(t *testing.T) {
		t.Parallel()

		assert := require.New(t)
		c := newTestCmd()
		dataDir := filepath.ToSlash(filepath.Join(rootDir, "data-close"))
		l := ledger.New(klog.Discard{}, dataDir)
		output := filepath.Join(rootDir, "close-out.ns5")
		res, err := c.repairFile(context.Background(), shuffledName, output, repairOpts{
			ledger:     l,
			openOutput: openFailCloseFile,
		})
		assert.ErrorIs(err, deshuffle.ErrIO)
		assert.ErrorIs(err, errCloseOutput)
		assert.NotNil(res)
		assert.Equal(deshuffle.StatusIncomplete, res.Status)

		var b bytes.Buffer
		assert.NoError(l.Export(context.Background(), &b))
		var entry ledgerdbmodel.Model
		assert.NoError(json.NewDecoder(&b).Decode(&entry))
		assert.Equal(string(deshuffle.StatusIncomplete), entry.Status)
		assert.NotEmpty(entry.Message)
	})

	t.Run("rejected", func(t *testing.T) {
		t.Parallel()

		assert := require.New(t)
		c := newTestCmd()
		dataDir := filepath.ToSlash(filepath.Join(rootDir, "data-rejected"))
		l := ledger.New(klog.Discard{}, dataDir)
		output := filepath.Join(rootDir, "rejected-out.ns5")
		_, err := c.repairFile(context.Background(), shuffledName, output, repairOpts{
			guard:  deshuffle.Guard{MaxBlockLen: 2},
			ledger: l,
		})
		assert.ErrorIs(err, deshuffle.ErrUnrecognizedPattern)
		_, err = os.Stat(output)
		assert.ErrorIs(err, os.ErrNotExist)

		var b bytes.Buffer
		assert.NoError(l.Export(context.Background(), &b))
		var entry ledgerdbmodel.Model
		assert.NoError(json.NewDecoder(&b).Decode(&entry))
		assert.Equal(string(deshuffle.StatusFailed), entry.Status)
		assert.NotEmpty(entry.Message)
		assert.Empty(entry.OutputChecksum)
	})
}

func TestScanAndInspect(t *testing.T) {
	t.Parallel()

	rootDir := t.TempDir()
	writeRecording(t, filepath.Join(rootDir, "a", "shuffled.ns5"), nsxtest.Recording{
		ChannelCount: 2,
		Timestamps:   nsxtest.Shuffled(20, 4, 2, 3),
	})
	writeRecording(t, filepath.Join(rootDir, "a", "b", "clean.ns6"), nsxtest.Recording{
		ChannelCount: 2,
		Timestamps:   []uint64{1, 2, 3},
	})
	writeRecording(t, filepath.Join(rootDir, "other.ns5"), nsxtest.Recording{
		FileType:     "NEURALSG",
		ChannelCount: 2,
		Timestamps:   []uint64{1},
	})
	assert := require.New(t)
	assert.NoError(os.WriteFile(filepath.Join(rootDir, "notes.txt"), []byte("ignored"), 0o644))

	t.Run("scan", func(t *testing.T) {
		t.Parallel()

		assert := require.New(t)
		c := newTestCmd()
		g := deshuffle.Guard{}
		reports, err := c.scanDir(context.Background(), deshuffle.NewRepairer(klog.Discard{}, g), rootDir, defaultScanMatch)
		assert.NoError(err)
		assert.Len(reports, 3)
		byName := map[string]fileReport{}
		for _, i := range reports {
			rel, err := filepath.Rel(rootDir, i.Path)
			assert.NoError(err)
			byName[filepath.ToSlash(rel)] = i
		}
		assert.Equal(reportShuffled, byName["a/shuffled.ns5"].Status)
		assert.Equal([]deshuffle.Triple{{A: 4, B: 7, C: 9}}, byName["a/shuffled.ns5"].Triples)
		assert.Equal(reportClean, byName["a/b/clean.ns6"].Status)
		assert.Equal(3, byName["a/b/clean.ns6"].Segments)
		assert.Equal(reportFailed, byName["other.ns5"].Status)
		assert.NotEmpty(byName["other.ns5"].Error)

		var b bytes.Buffer
		assert.NoError(writeReports(&b, "yaml", reports))
		var decoded []fileReport
		assert.NoError(yaml.Unmarshal(b.Bytes(), &decoded))
		assert.Equal(reports, decoded)

		b.Reset()
		assert.NoError(writeReports(&b, "text", reports))
		assert.Equal(3, strings.Count(b.String(), "\n"))
		assert.Error(writeReports(&b, "xml", reports))

		_, err = c.scanDir(context.Background(), deshuffle.NewRepairer(klog.Discard{}, g), rootDir, "(")
		assert.Error(err)
	})

	t.Run("inspect", func(t *testing.T) {
		t.Parallel()

		assert := require.New(t)
		out, err := inspectFile(context.Background(), filepath.Join(rootDir, "a", "shuffled.ns5"), 3)
		assert.NoError(err)
		assert.Len(out.Extended, 2)
		assert.Equal(20, out.Segments)
		assert.Len(out.DataBlocks, 3)
		ts, err := out.DataBlocks[2].Uint("Timestamp")
		assert.NoError(err)
		assert.Equal(uint64(1020), ts)

		var b bytes.Buffer
		assert.NoError(writeInspect(&b, "json", out))
		var decoded map[string]any
		assert.NoError(json.Unmarshal(b.Bytes(), &decoded))
		assert.Equal(float64(20), decoded["segments"])
		basic, ok := decoded["basic"].(map[string]any)
		assert.True(ok)
		assert.Equal("BRSMPGRP", basic["FileType"])

		b.Reset()
		assert.NoError(writeInspect(&b, "yaml", out))
		assert.True(slices.Contains(strings.Split(b.String(), "\n"), "basic:"))
	})

	t.Run("inspect 2.1", func(t *testing.T) {
		t.Parallel()

		assert := require.New(t)
		name := filepath.Join(t.TempDir(), "legacy.ns2")
		assert.NoError(os.WriteFile(name, nsxtest.Recording21{
			Label:      "1 kS/s",
			Period:     30,
			ChannelIDs: []uint32{5, 9, 11},
			Samples:    8,
		}.Bytes(), 0o644))
		out, err := inspectFile(context.Background(), name, 3)
		assert.NoError(err)
		assert.Equal("basic21", out.Basic.Schema)
		assert.Len(out.Extended, 3)
		id, err := out.Extended[2].Uint("ChannelID")
		assert.NoError(err)
		assert.Equal(uint64(11), id)
		assert.Equal(0, out.Segments)
		assert.Empty(out.DataBlocks)
	})
}
