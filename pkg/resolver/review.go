package resolver

import (
	"sync"
	"time"

	"github.com/soundprediction/strata/pkg/metrics"
)

// ReviewItem records an ambiguous resolution for external review.
type ReviewItem struct {
	TenantID     string    `json:"tenant_id"`
	EntityID     string    `json:"entity_id"`
	Name         string    `json:"name"`
	Rule         Rule      `json:"rule"`
	Score        float64   `json:"score"`
	CandidateIDs []string  `json:"candidate_ids"`
	CreatedAt    time.Time `json:"created_at"`
}

// ReviewQueue is a bounded FIFO of ambiguous resolutions. When full, the
// oldest item is dropped.
type ReviewQueue struct {
	mu       sync.Mutex
	items    []ReviewItem
	capacity int
	dropped  int
}

// NewReviewQueue creates a queue holding at most capacity items; a
// non-positive capacity defaults to 1000.
func NewReviewQueue(capacity int) *ReviewQueue {
	if capacity <= 0 {
		capacity = 1000
	}
	return &ReviewQueue{capacity: capacity}
}

// Push appends item, evicting the oldest item when the queue is full.
func (q *ReviewQueue) Push(item ReviewItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		q.items = q.items[1:]
		q.dropped++
	}
	q.items = append(q.items, item)
	metrics.ReviewQueueLength.Set(float64(len(q.items)))
}

// Drain removes and returns every queued item of the tenant; an empty
// tenant drains everything.
func (q *ReviewQueue) Drain(tenantID string) []ReviewItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out, keep []ReviewItem
	for _, item := range q.items {
		if tenantID == "" || item.TenantID == tenantID {
			out = append(out, item)
		} else {
			keep = append(keep, item)
		}
	}
	q.items = keep
	metrics.ReviewQueueLength.Set(float64(len(q.items)))
	return out
}

// Len returns the number of queued items.
func (q *ReviewQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns how many items were evicted because the queue was full.
func (q *ReviewQueue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
