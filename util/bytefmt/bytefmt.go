// Package bytefmt formats byte counts for humans
package bytefmt

import (
	"strconv"
)

var units = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB", "EiB"}

// ToString formats a byte count with binary unit prefixes
func ToString(b float64) string {
	i := 0
	for b >= 1024 && i < len(units)-1 {
		b /= 1024
		i++
	}
	if i == 0 {
		return strconv.FormatFloat(b, 'f', -1, 64) + units[0]
	}
	return strconv.FormatFloat(b, 'f', 2, 64) + units[i]
}
