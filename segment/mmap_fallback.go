//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package segment

import (
	"os"
)

func mapFile(f *os.File, size int64) ([]byte, error) {
	return nil, nil
}

func unmapFile(data []byte) error {
	return nil
}
