//go:build linux || darwin || freebsd || netbsd || openbsd

package segment

import (
	"math"
	"os"

	"golang.org/x/sys/unix"
	"xorkevin.dev/kerrors"
)

func mapFile(f *os.File, size int64) ([]byte, error) {
	if size <= 0 || size > math.MaxInt {
		return nil, nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, kerrors.WithMsg(err, "Failed to mmap file")
	}
	// segments are read front to back
	_ = unix.Madvise(data, unix.MADV_SEQUENTIAL)
	return data, nil
}

func unmapFile(data []byte) error {
	return unix.Munmap(data)
}
