package audiofilter

import (
	"fmt"
	"strconv"
	"strings"
)

// parseDBString accepts "-3dB", "+6dB", "0 dB", or a bare number, all
// case-insensitive and tolerant of surrounding whitespace, and returns
// the numeric decibel value.
func parseDBString(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "dB")
	s = strings.TrimSuffix(s, "DB")
	s = strings.TrimSuffix(s, "Db")
	s = strings.TrimSuffix(s, "db")
	s = strings.TrimSpace(s)

	db, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid gain string %q: %w", s, err)
	}
	return db, nil
}
