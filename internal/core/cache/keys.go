package cache

import (
	"fmt"
	"regexp"
	"strconv"
)

// windowSuffix matches keys that end in a numeric time window, such as
// "wallet-24h" or "fees-7d".
var windowSuffix = regexp.MustCompile(`^(.*?)(\d+)(s|m|h|d|w)$`)

// AdjacentKeys returns the keys one window step below and above key. Keys
// without a time-window suffix have no neighbours.
func AdjacentKeys(key string) []string {
	m := windowSuffix.FindStringSubmatch(key)
	if m == nil {
		return nil
	}
	n, err := strconv.ParseUint(m[2], 10, 63)
	if err != nil {
		return nil
	}

	// Zero-padded windows keep their digit width.
	width := 0
	if len(m[2]) > 1 && m[2][0] == '0' {
		width = len(m[2])
	}

	prefix, unit := m[1], m[3]
	out := make([]string, 0, 2)
	if n > 0 {
		out = append(out, prefix+fmt.Sprintf("%0*d", width, n-1)+unit)
	}
	out = append(out, prefix+fmt.Sprintf("%0*d", width, n+1)+unit)
	return out
}
