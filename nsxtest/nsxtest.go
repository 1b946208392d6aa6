// Package nsxtest builds synthetic sample group recordings for tests
package nsxtest

import (
	"encoding/binary"
	"time"
)

const (
	FileTypeSampleGroup = "BRSMPGRP"
	basicSize           = 314
	extendedSize        = 66
)

type (
	// Recording describes a synthetic recording
	Recording struct {
		FileType     string
		Label        string
		Comment      string
		ChannelCount int
		TimeOrigin   time.Time
		// Timestamps holds one timestamp per segment in file order
		Timestamps []uint64
		// SampleCounts overrides the declared sample count per segment and
		// defaults to 1
		SampleCounts map[int]uint32
		// FilterCode overrides the high pass filter code of every channel
		FilterCode *uint16
		// ExtraHeader is appended to the declared header length
		ExtraHeader int
		// Trailing is appended after the last segment
		Trailing []byte
	}
)

func (r Recording) fileType() string {
	if r.FileType == "" {
		return FileTypeSampleGroup
	}
	return r.FileType
}

// HeaderBytes returns the declared header length
func (r Recording) HeaderBytes() int {
	return basicSize + extendedSize*r.ChannelCount + r.ExtraHeader
}

// SegmentSize returns the size of one segment record
func (r Recording) SegmentSize() int {
	return 1 + 8 + 4 + 2*r.ChannelCount
}

// Header encodes the basic and extended headers
func (r Recording) Header() []byte {
	b := make([]byte, r.HeaderBytes())
	putString(b[0:8], r.fileType())
	b[8] = 3
	b[9] = 0
	binary.LittleEndian.PutUint32(b[10:], uint32(r.HeaderBytes()))
	putString(b[14:30], r.Label)
	putString(b[30:286], r.Comment)
	binary.LittleEndian.PutUint32(b[286:], 1)
	binary.LittleEndian.PutUint32(b[290:], 30000)
	t := r.TimeOrigin
	if t.IsZero() {
		t = time.Date(2024, time.March, 14, 9, 26, 53, 589*int(time.Millisecond), time.UTC)
	}
	for n, v := range []int{t.Year(), int(t.Month()), int(t.Weekday()), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond() / int(time.Millisecond)} {
		binary.LittleEndian.PutUint16(b[294+2*n:], uint16(v))
	}
	binary.LittleEndian.PutUint32(b[310:], uint32(r.ChannelCount))
	for ch := range r.ChannelCount {
		e := b[basicSize+extendedSize*ch:]
		putString(e[0:2], "CC")
		binary.LittleEndian.PutUint16(e[2:], uint16(ch+1))
		putString(e[4:20], "chan"+string(rune('A'+ch%26)))
		e[20] = 1
		e[21] = byte(ch + 1)
		binary.LittleEndian.PutUint16(e[22:], uint16(0x8000))
		binary.LittleEndian.PutUint16(e[24:], 0x7fff)
		binary.LittleEndian.PutUint16(e[26:], uint16(0xfc18))
		binary.LittleEndian.PutUint16(e[28:], 1000)
		putString(e[30:46], "uV")
		binary.LittleEndian.PutUint32(e[46:], 300000)
		binary.LittleEndian.PutUint32(e[50:], 1)
		filter := uint16(1)
		if r.FilterCode != nil {
			filter = *r.FilterCode
		}
		binary.LittleEndian.PutUint16(e[54:], filter)
		binary.LittleEndian.PutUint32(e[56:], 7500000)
		binary.LittleEndian.PutUint32(e[60:], 3)
		binary.LittleEndian.PutUint16(e[64:], 0)
	}
	return b
}

// Segment encodes the record at file position i
func (r Recording) Segment(i int) []byte {
	b := make([]byte, r.SegmentSize())
	b[0] = 1
	binary.LittleEndian.PutUint64(b[1:], r.Timestamps[i])
	count := uint32(1)
	if v, ok := r.SampleCounts[i]; ok {
		count = v
	}
	binary.LittleEndian.PutUint32(b[9:], count)
	for ch := range r.ChannelCount {
		binary.LittleEndian.PutUint16(b[13+2*ch:], uint16(int16(i*r.ChannelCount+ch)))
	}
	return b
}

// Bytes encodes the full recording
func (r Recording) Bytes() []byte {
	b := r.Header()
	for i := range r.Timestamps {
		b = append(b, r.Segment(i)...)
	}
	return append(b, r.Trailing...)
}

// Shuffled returns timestamps for n segments where the bad block of segment
// positions [a+1, a+bad] holds later timestamps than the following shifted
// block of length shifted
func Shuffled(n int, a, bad, shifted int) []uint64 {
	ts := make([]uint64, n)
	for i := range ts {
		ts[i] = uint64(1000 + 10*i)
	}
	return ApplyShuffle(ts, a, bad, shifted)
}

// ApplyShuffle moves the block of length bad after position a behind the
// following block of length shifted, returning the shuffled timestamps
func ApplyShuffle(sorted []uint64, a, bad, shifted int) []uint64 {
	out := make([]uint64, len(sorted))
	copy(out, sorted)
	start := a + 1
	// file order: bad block holds the timestamps that belong after the
	// shifted block
	shiftedTS := sorted[start : start+shifted]
	badTS := sorted[start+shifted : start+shifted+bad]
	copy(out[start:], badTS)
	copy(out[start+bad:], shiftedTS)
	return out
}

type (
	// Recording21 describes a synthetic 2.1 recording
	Recording21 struct {
		Label      string
		Period     uint32
		ChannelIDs []uint32
		// Samples is the number of samples per channel
		Samples int
	}
)

// Bytes encodes the 2.1 header, channel ids, and interleaved samples
func (r Recording21) Bytes() []byte {
	headerBytes := 32 + 4*len(r.ChannelIDs)
	b := make([]byte, headerBytes+2*len(r.ChannelIDs)*r.Samples)
	putString(b[0:8], "NEURALSG")
	putString(b[8:24], r.Label)
	binary.LittleEndian.PutUint32(b[24:], r.Period)
	binary.LittleEndian.PutUint32(b[28:], uint32(len(r.ChannelIDs)))
	for n, v := range r.ChannelIDs {
		binary.LittleEndian.PutUint32(b[32+4*n:], v)
	}
	for n := range len(r.ChannelIDs) * r.Samples {
		binary.LittleEndian.PutUint16(b[headerBytes+2*n:], uint16(n))
	}
	return b
}

func putString(dst []byte, s string) {
	copy(dst, s)
}
