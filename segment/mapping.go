package segment

import (
	"errors"
	"fmt"
	"io"
	"os"

	"xorkevin.dev/kerrors"
)

type (
	// Mapping is a read only view of a file. When the platform supports it the
	// file is memory mapped, otherwise reads go to the file.
	Mapping struct {
		name string
		file *os.File
		data []byte
		size int64
	}
)

// Open opens a file for reading and maps it into memory where possible
func Open(name string) (_ *Mapping, retErr error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, kerrors.WithMsg(err, "Failed to open file")
	}
	defer func() {
		if retErr != nil {
			if err := f.Close(); err != nil {
				retErr = errors.Join(retErr, kerrors.WithMsg(err, "Failed to close file"))
			}
		}
	}()
	info, err := f.Stat()
	if err != nil {
		return nil, kerrors.WithMsg(err, "Failed to stat file")
	}
	if !info.Mode().IsRegular() {
		return nil, kerrors.WithMsg(nil, fmt.Sprintf("File %s is not a regular file", name))
	}
	m := &Mapping{
		name: name,
		file: f,
		size: info.Size(),
	}
	// reads fall back to the file when the mapping is unavailable
	m.data, _ = mapFile(f, m.size)
	return m, nil
}

// Name returns the opened file name
func (m *Mapping) Name() string {
	return m.name
}

// Size returns the file size at open
func (m *Mapping) Size() int64 {
	return m.size
}

// Bytes returns the mapped file contents or nil if the file is not mapped
func (m *Mapping) Bytes() []byte {
	return m.data
}

// Mapped reports whether the file is memory mapped
func (m *Mapping) Mapped() bool {
	return m.data != nil
}

// ReadAt implements [io.ReaderAt]
func (m *Mapping) ReadAt(p []byte, off int64) (int, error) {
	if m.data == nil {
		return m.file.ReadAt(p, off)
	}
	if off < 0 {
		return 0, kerrors.WithMsg(nil, "Negative offset")
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close unmaps and closes the file
func (m *Mapping) Close() error {
	var errs []error
	if m.data != nil {
		if err := unmapFile(m.data); err != nil {
			errs = append(errs, kerrors.WithMsg(err, "Failed to unmap file"))
		}
		m.data = nil
	}
	if m.file != nil {
		if err := m.file.Close(); err != nil {
			errs = append(errs, kerrors.WithMsg(err, "Failed to close file"))
		}
		m.file = nil
	}
	return errors.Join(errs...)
}
