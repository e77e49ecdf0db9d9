package sandbox

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var memoryLimitPattern = regexp.MustCompile(`^(\d+)([kmgKMG]?)$`)

// ParseMemoryLimit converts a limit such as "128m" to bytes. Suffixes k, m
// and g are powers of 1024 and case-insensitive. Anything unrecognized
// or too large for int64 yields DefaultMemoryLimit.
func ParseMemoryLimit(limit string) int64 {
	match := memoryLimitPattern.FindStringSubmatch(limit)
	if match == nil {
		return DefaultMemoryLimit
	}

	value, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return DefaultMemoryLimit
	}

	var multiplier int64 = 1
	switch strings.ToLower(match[2]) {
	case "k":
		multiplier = 1024
	case "m":
		multiplier = 1024 * 1024
	case "g":
		multiplier = 1024 * 1024 * 1024
	}
	if value > math.MaxInt64/multiplier {
		return DefaultMemoryLimit
	}
	return value * multiplier
}
