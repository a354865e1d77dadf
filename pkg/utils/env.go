package utils

import (
	"os"
	"strconv"
)

const (
	DefaultSemaphoreLimit = 20
)

// GetSemaphoreLimit returns the fan-out limit from STRATA_SEMAPHORE_LIMIT or
// the default.
func GetSemaphoreLimit() int {
	val := os.Getenv("STRATA_SEMAPHORE_LIMIT")
	if val == "" {
		return DefaultSemaphoreLimit
	}
	limit, err := strconv.Atoi(val)
	if err != nil || limit <= 0 {
		return DefaultSemaphoreLimit
	}
	return limit
}
