// Package utils provides shared utilities for text formatting and logging.
package utils

import (
	"strings"

	"github.com/dustin/go-humanize"
)

// HumanBytes formats n with a binary unit suffix, e.g. 1536 -> "1.5 KiB".
func HumanBytes(n int64) string {
	if n < 0 {
		return "-" + humanize.IBytes(uint64(-n))
	}
	return humanize.IBytes(uint64(n))
}

// Bar returns a run of '#' proportional to count/max, at most width long.
// Non-zero counts always get at least one mark.
func Bar(count, max int64, width int) string {
	if count <= 0 || max <= 0 || width <= 0 {
		return ""
	}
	n := int(count * int64(width) / max)
	if n == 0 {
		n = 1
	}
	return strings.Repeat("#", n)
}
