package utils

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkerPool(t *testing.T) {
	t.Parallel()
	pool := NewWorkerPool(4, func(ctx context.Context, item string) (int, error) {
		if item == "" {
			return 0, errors.New("empty")
		}
		return len(item), nil
	})

	results, errs := pool.ProcessItems(context.Background(), []string{"a", "bb", "", "dddd"})
	assert.Equal(t, []int{1, 2, 0, 4}, results)
	assert.NoError(t, errs[0])
	assert.Error(t, errs[2])
}

func TestBatch(t *testing.T) {
	t.Parallel()
	batches := Batch([]int{1, 2, 3, 4, 5}, 2)
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, batches)
	assert.Nil(t, Batch([]int{}, 3))
}

func TestGetSemaphoreLimit(t *testing.T) {
	t.Setenv("STRATA_SEMAPHORE_LIMIT", "7")
	assert.Equal(t, 7, GetSemaphoreLimit())

	t.Setenv("STRATA_SEMAPHORE_LIMIT", "nope")
	assert.Equal(t, DefaultSemaphoreLimit, GetSemaphoreLimit())
}
