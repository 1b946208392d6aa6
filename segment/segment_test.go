package segment

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"xorkevin.dev/nsxrepair/header"
	"xorkevin.dev/nsxrepair/nsxtest"
)

type (
	byteView struct {
		*bytes.Reader
		b []byte
	}
)

func (v byteView) Bytes() []byte {
	return v.b
}

func TestLayout(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		Name        string
		Size        int64
		HeaderBytes int64
		Channels    int
		Segments    int
		Err         error
	}{
		{Name: "empty region", Size: 100, HeaderBytes: 100, Channels: 4, Segments: 0},
		{Name: "aligned", Size: 100 + 21*11, HeaderBytes: 100, Channels: 4, Segments: 11},
		{Name: "misaligned", Size: 100 + 21*11 + 3, HeaderBytes: 100, Channels: 4, Err: ErrMisaligned},
		{Name: "no channels", Size: 100, HeaderBytes: 100, Channels: 0, Err: ErrMisaligned},
		{Name: "short", Size: 99, HeaderBytes: 100, Channels: 4, Err: header.ErrTruncated},
	} {
		tc := tc
		t.Run(tc.Name, func(t *testing.T) {
			t.Parallel()

			assert := require.New(t)
			l, err := NewLayout(tc.Size, tc.HeaderBytes, tc.Channels)
			if tc.Err != nil {
				assert.ErrorIs(err, tc.Err)
				return
			}
			assert.NoError(err)
			assert.Equal(int64(13+2*tc.Channels), l.SegmentSize)
			assert.Equal(tc.Segments, l.NumSegments)
			assert.Equal(tc.Size, l.Size())
			assert.Equal(tc.HeaderBytes+l.SegmentSize, l.Offset(1))
		})
	}
}

func TestBuildIndex(t *testing.T) {
	t.Parallel()

	rec := nsxtest.Recording{
		ChannelCount: 4,
		Timestamps:   []uint64{10, 20, 30, 70, 80, 90, 40, 50, 60, 100, 110},
		SampleCounts: map[int]uint32{5: 3},
	}
	b := rec.Bytes()
	size := int64(len(b))
	headerBytes := int64(rec.HeaderBytes())

	check := func(assert *require.Assertions, idx *Index) {
		assert.Equal(11, idx.Layout.NumSegments)
		assert.Equal(int64(21), idx.Layout.SegmentSize)
		assert.Equal(rec.Timestamps, idx.Timestamps)
		for n, i := range idx.SampleCounts {
			if n == 5 {
				assert.Equal(uint32(3), i)
			} else {
				assert.Equal(uint32(1), i)
			}
		}
	}

	t.Run("reader", func(t *testing.T) {
		t.Parallel()

		assert := require.New(t)
		idx, err := BuildIndex(context.Background(), bytes.NewReader(b), size, headerBytes, 4)
		assert.NoError(err)
		check(assert, idx)
	})

	t.Run("small chunks", func(t *testing.T) {
		t.Parallel()

		assert := require.New(t)
		layout, err := NewLayout(size, headerBytes, 4)
		assert.NoError(err)
		for _, chunk := range []int{1, 2, 3, 4, 10, 11, 64} {
			idx := &Index{
				Layout:       layout,
				Timestamps:   make([]uint64, layout.NumSegments),
				SampleCounts: make([]uint32, layout.NumSegments),
			}
			assert.NoError(idx.readChunked(context.Background(), bytes.NewReader(b), chunk))
			check(assert, idx)
		}
	})

	t.Run("byte view", func(t *testing.T) {
		t.Parallel()

		assert := require.New(t)
		// the reader is never consulted when a mapped view is present
		src := byteView{Reader: bytes.NewReader(nil), b: b}
		idx, err := BuildIndex(context.Background(), src, size, headerBytes, 4)
		assert.NoError(err)
		check(assert, idx)
	})

	t.Run("mapping", func(t *testing.T) {
		t.Parallel()

		assert := require.New(t)
		name := filepath.Join(t.TempDir(), "rec.ns5")
		assert.NoError(os.WriteFile(name, b, 0o644))
		m, err := Open(name)
		assert.NoError(err)
		defer func() {
			assert.NoError(m.Close())
		}()
		assert.Equal(size, m.Size())
		assert.Equal(name, m.Name())
		idx, err := BuildIndex(context.Background(), m, m.Size(), headerBytes, 4)
		assert.NoError(err)
		check(assert, idx)

		buf := make([]byte, 8)
		n, err := m.ReadAt(buf, headerBytes+1)
		assert.NoError(err)
		assert.Equal(8, n)
		assert.Equal(b[headerBytes+1:headerBytes+9], buf)
		n, _ = m.ReadAt(buf, size-4)
		assert.Equal(4, n)
	})

	t.Run("short source", func(t *testing.T) {
		t.Parallel()

		assert := require.New(t)
		_, err := BuildIndex(context.Background(), bytes.NewReader(b[:len(b)-21]), size, headerBytes, 4)
		assert.ErrorIs(err, header.ErrTruncated)
	})

	t.Run("misaligned", func(t *testing.T) {
		t.Parallel()

		assert := require.New(t)
		_, err := BuildIndex(context.Background(), bytes.NewReader(b), size-1, headerBytes, 4)
		assert.ErrorIs(err, ErrMisaligned)
	})

	t.Run("canceled", func(t *testing.T) {
		t.Parallel()

		assert := require.New(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := BuildIndex(ctx, bytes.NewReader(b), size, headerBytes, 4)
		assert.ErrorIs(err, context.Canceled)
	})
}

func TestOpenEmpty(t *testing.T) {
	t.Parallel()

	assert := require.New(t)
	name := filepath.Join(t.TempDir(), "empty")
	assert.NoError(os.WriteFile(name, nil, 0o644))
	m, err := Open(name)
	assert.NoError(err)
	assert.False(m.Mapped())
	assert.Nil(m.Bytes())
	assert.Equal(int64(0), m.Size())
	assert.NoError(m.Close())

	_, err = Open(t.TempDir())
	assert.Error(err)
}
