package scrape

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/dealbridge/internal/observability/metrics"
	"go.uber.org/zap"
)

// QueueStatus is the observability snapshot of the admission queue.
type QueueStatus struct {
	Pending  int  `json:"pending"`
	InFlight int  `json:"in_flight"`
	Busy     bool `json:"busy"`
}

type queueResult struct {
	product *Product
	err     error
}

type queueRequest struct {
	url    string
	result chan queueResult
}

// AdmissionQueue bounds concurrent outbound scrapes. Requests queue without
// limit; the processing loop takes batches of at most `concurrency` and
// pauses `batchDelay` between batches regardless of how fast a batch ran.
// Only the loop mutates the in-flight counter; Clear is the one external
// mutation and touches pending requests only.
type AdmissionQueue struct {
	fetcher     Fetcher
	concurrency int
	batchDelay  time.Duration
	log         *zap.Logger
	metrics     *metrics.DealMetrics

	mu       sync.Mutex
	pending  []*queueRequest
	inFlight int
	wake     chan struct{}
}

func NewAdmissionQueue(fetcher Fetcher, concurrency int, batchDelay time.Duration, log *zap.Logger) *AdmissionQueue {
	if concurrency <= 0 {
		concurrency = 2
	}
	return &AdmissionQueue{
		fetcher:     fetcher,
		concurrency: concurrency,
		batchDelay:  batchDelay,
		log:         log.Named("scrape.queue"),
		metrics:     metrics.Deal(),
		wake:        make(chan struct{}, 1),
	}
}

// Enqueue queues a fetch and waits for its result. A cancelled context
// abandons the wait; the fetch itself still runs when its batch comes up and
// its result is discarded.
func (q *AdmissionQueue) Enqueue(ctx context.Context, url string) (*Product, error) {
	req := &queueRequest{
		url:    url,
		result: make(chan queueResult, 1),
	}

	q.mu.Lock()
	q.pending = append(q.pending, req)
	pending := len(q.pending)
	q.mu.Unlock()
	q.metrics.SetQueueDepth(pending, q.currentInFlight())

	select {
	case q.wake <- struct{}{}:
	default:
	}

	select {
	case res := <-req.result:
		return res.product, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Fetch routes the lookup through the queue, satisfying Fetcher so the
// queue can sit behind a cache layer.
func (q *AdmissionQueue) Fetch(ctx context.Context, url string) (*Product, error) {
	return q.Enqueue(ctx, url)
}

// Run processes batches until the context is cancelled. Each request in a
// batch succeeds or fails on its own; one bad URL never poisons its
// siblings.
func (q *AdmissionQueue) Run(ctx context.Context) {
	for {
		batch := q.takeBatch()
		if len(batch) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}

		var wg sync.WaitGroup
		for _, req := range batch {
			wg.Add(1)
			go func(req *queueRequest) {
				defer wg.Done()
				product, err := q.fetcher.Fetch(ctx, req.url)
				req.result <- queueResult{product: product, err: err}
			}(req)
		}
		wg.Wait()

		q.mu.Lock()
		q.inFlight = 0
		pending := len(q.pending)
		q.mu.Unlock()
		q.metrics.SetQueueDepth(pending, 0)

		select {
		case <-ctx.Done():
			return
		case <-time.After(q.batchDelay):
		}
	}
}

func (q *AdmissionQueue) takeBatch() []*queueRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.pending)
	if n == 0 {
		return nil
	}
	if n > q.concurrency {
		n = q.concurrency
	}
	batch := q.pending[:n]
	q.pending = append([]*queueRequest(nil), q.pending[n:]...)
	q.inFlight = len(batch)
	q.metrics.SetQueueDepth(len(q.pending), q.inFlight)
	return batch
}

// Clear rejects every pending request. In-flight fetches are unaffected; an
// administrative escape hatch, not part of normal operation.
func (q *AdmissionQueue) Clear() int {
	q.mu.Lock()
	cleared := q.pending
	q.pending = nil
	inFlight := q.inFlight
	q.mu.Unlock()

	for _, req := range cleared {
		req.result <- queueResult{err: ErrQueueCleared}
	}
	if len(cleared) > 0 {
		q.log.Warn("admission queue cleared", zap.Int("rejected", len(cleared)))
	}
	q.metrics.SetQueueDepth(0, inFlight)
	return len(cleared)
}

func (q *AdmissionQueue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStatus{
		Pending:  len(q.pending),
		InFlight: q.inFlight,
		Busy:     len(q.pending) > 0 || q.inFlight > 0,
	}
}

func (q *AdmissionQueue) currentInFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}
