package core

import (
	"container/heap"
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SchedulerConfig holds the batch scheduler tuning knobs.
type SchedulerConfig struct {
	MaxQueueSize int
	NumWorkers   int

	// AgeWeight is priority added per second spent in the queue. It
	// keeps every item eventually dequeued regardless of base score.
	AgeWeight float64

	// UrgencyWeight scales the keyword/domain pre-classification
	// heuristic; ImportanceWeight scales the sender reply-rate score.
	UrgencyWeight    float64
	ImportanceWeight float64
}

// DefaultSchedulerConfig mirrors the documented defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxQueueSize:     15000,
		NumWorkers:       6,
		AgeWeight:        0.001,
		UrgencyWeight:    1.0,
		ImportanceWeight: 1.0,
	}
}

// Handle identifies an enqueued email. The caller can cancel it while
// it is still queued.
type Handle struct {
	item *queueItem
}

// Cancel drops the item if it has not been dispatched yet. Returns
// true if the item was still pending.
func (h *Handle) Cancel() bool {
	h.item.mu.Lock()
	defer h.item.mu.Unlock()
	if h.item.dispatched {
		return false
	}
	h.item.cancelled = true
	return true
}

type queueItem struct {
	email    *EmailRecord
	base     float64
	seq      uint64
	enqueued time.Time
	index    int

	mu         sync.Mutex
	cancelled  bool
	dispatched bool
}

func (it *queueItem) isCancelled() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.cancelled
}

func (it *queueItem) markDispatched() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.cancelled {
		return false
	}
	it.dispatched = true
	return true
}

// priorityQueue orders items by effective priority. Because age grows
// at the same rate for every queued item, the relative order of two
// queued items never changes and the heap invariant holds across time.
type priorityQueue struct {
	items     []*queueItem
	ageWeight float64
}

func (pq *priorityQueue) effective(it *queueItem) float64 {
	return it.base + pq.ageWeight*time.Since(it.enqueued).Seconds()
}

func (pq *priorityQueue) Len() int { return len(pq.items) }

func (pq *priorityQueue) Less(i, j int) bool {
	a, b := pq.items[i], pq.items[j]
	ea, eb := pq.effective(a), pq.effective(b)
	if ea != eb {
		return ea > eb
	}
	// FIFO among equal priorities.
	return a.seq < b.seq
}

func (pq *priorityQueue) Swap(i, j int) {
	pq.items[i], pq.items[j] = pq.items[j], pq.items[i]
	pq.items[i].index = i
	pq.items[j].index = j
}

func (pq *priorityQueue) Push(x interface{}) {
	it := x.(*queueItem)
	it.index = len(pq.items)
	pq.items = append(pq.items, it)
}

func (pq *priorityQueue) Pop() interface{} {
	old := pq.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	pq.items = old[:n-1]
	return it
}

// SchedulerStats is a snapshot of scheduler counters.
type SchedulerStats struct {
	Queued    int
	Deferred  int
	Processed int64
	Rejected  int64
}

// Scheduler orders and chunks incoming emails by urgency, age, and
// sender importance, draining them through a fixed worker pool. When
// the queue is full Enqueue fails fast with ErrBackpressure; callers
// apply their own retry or drop policy.
type Scheduler struct {
	cfg     SchedulerConfig
	process func(ctx context.Context, email *EmailRecord) error
	logger  *zap.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    priorityQueue
	deferred []*EmailRecord
	seq      uint64
	closed   bool

	processed int64
	rejected  int64

	importance *SenderImportance

	wg sync.WaitGroup
}

// NewScheduler creates a scheduler; process is the per-email pipeline
// each worker runs to completion before taking the next item.
func NewScheduler(
	cfg SchedulerConfig,
	importance *SenderImportance,
	process func(ctx context.Context, email *EmailRecord) error,
	logger *zap.Logger,
) *Scheduler {
	s := &Scheduler{
		cfg:        cfg,
		process:    process,
		logger:     logger,
		importance: importance,
	}
	s.cond = sync.NewCond(&s.mu)
	s.queue.ageWeight = cfg.AgeWeight
	return s
}

// Start launches the worker pool.
func (s *Scheduler) Start(ctx context.Context) {
	for i := 0; i < s.cfg.NumWorkers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.cond.Broadcast()
	}()
}

// Stop waits for in-flight work to finish after the context driving
// Start has been cancelled.
func (s *Scheduler) Stop() {
	s.wg.Wait()
}

// Enqueue admits an email into the priority queue, or fails fast with
// ErrBackpressure when the queue is at capacity.
func (s *Scheduler) Enqueue(email *EmailRecord) (*Handle, error) {
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrBackpressure
	}
	if s.queue.Len() >= s.cfg.MaxQueueSize {
		s.rejected++
		return nil, ErrBackpressure
	}

	s.seq++
	it := &queueItem{
		email:    email,
		base:     s.baseScore(email),
		seq:      s.seq,
		enqueued: time.Now(),
	}
	heap.Push(&s.queue, it)
	s.cond.Signal()
	return &Handle{item: it}, nil
}

// Defer parks an email that could not be classified this cycle (budget
// exhausted, provider down). Deferred emails are re-enqueued by
// DrainDeferred and are never dropped.
func (s *Scheduler) Defer(email *EmailRecord) {
	s.mu.Lock()
	s.deferred = append(s.deferred, email)
	s.mu.Unlock()
	s.logger.Info("email deferred for next budget cycle",
		zap.String("email_id", email.ID))
}

// DrainDeferred moves parked emails back into the queue. Emails that
// still do not fit stay deferred.
func (s *Scheduler) DrainDeferred() int {
	s.mu.Lock()
	pending := s.deferred
	s.deferred = nil
	s.mu.Unlock()

	requeued := 0
	for i, email := range pending {
		if _, err := s.Enqueue(email); err != nil {
			s.mu.Lock()
			s.deferred = append(s.deferred, pending[i:]...)
			s.mu.Unlock()
			break
		}
		requeued++
	}
	if requeued > 0 {
		s.logger.Info("re-enqueued deferred emails", zap.Int("count", requeued))
	}
	return requeued
}

// Stats returns a snapshot of queue depth and counters.
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SchedulerStats{
		Queued:    s.queue.Len(),
		Deferred:  len(s.deferred),
		Processed: s.processed,
		Rejected:  s.rejected,
	}
}

func (s *Scheduler) worker(ctx context.Context, id int) {
	defer s.wg.Done()

	for {
		it := s.next()
		if it == nil {
			return
		}
		if !it.markDispatched() {
			continue // cancelled while queued
		}

		if err := s.process(ctx, it.email); err != nil {
			// A failed worker reports and moves on; the item was
			// already deferred or logged by the pipeline.
			s.logger.Warn("pipeline failed",
				zap.Int("worker", id),
				zap.String("email_id", it.email.ID),
				zap.Error(err))
		}

		s.mu.Lock()
		s.processed++
		s.mu.Unlock()
	}
}

// next blocks until an item is available or the scheduler is closed.
func (s *Scheduler) next() *queueItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		for s.queue.Len() > 0 {
			it := heap.Pop(&s.queue).(*queueItem)
			if it.isCancelled() {
				continue
			}
			return it
		}
		if s.closed {
			return nil
		}
		s.cond.Wait()
	}
}

// baseScore is the cheap pre-classification priority: keyword/domain
// urgency plus historical sender importance. Age is added at compare
// time.
func (s *Scheduler) baseScore(email *EmailRecord) float64 {
	score := s.cfg.UrgencyWeight * urgencyHeuristic(email)
	if s.importance != nil {
		score += s.cfg.ImportanceWeight * s.importance.Score(email.From)
	}
	return score
}

// urgentKeywords are subject markers that raise priority without a
// model call.
var urgentKeywords = []string{
	"urgent", "asap", "critical", "outage", "down", "incident",
	"deadline", "action required", "security",
}

// urgentDomains are sender domains whose mail is alert-shaped.
var urgentDomains = []string{
	"pagerduty.com", "opsgenie.com", "sentry.io", "datadoghq.com",
}

func urgencyHeuristic(email *EmailRecord) float64 {
	subject := strings.ToLower(email.Subject)
	score := 0.0
	for _, kw := range urgentKeywords {
		if strings.Contains(subject, kw) {
			score += 0.25
		}
	}
	domain := senderDomain(email.From)
	for _, d := range urgentDomains {
		if domain == d {
			score += 0.5
			break
		}
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// SenderImportance tracks a per-sender importance score derived from
// historical reply rates. Shared between the scheduler (reads) and the
// feedback path (writes).
type SenderImportance struct {
	mu     sync.RWMutex
	scores map[string]float64
}

// NewSenderImportance creates an empty importance table.
func NewSenderImportance() *SenderImportance {
	return &SenderImportance{scores: make(map[string]float64)}
}

// Score returns the sender's importance in [0,1], zero when unknown.
func (si *SenderImportance) Score(sender string) float64 {
	si.mu.RLock()
	defer si.mu.RUnlock()
	return si.scores[strings.ToLower(sender)]
}

// Observe folds one replied/ignored observation into the sender's
// score with an exponential moving average.
func (si *SenderImportance) Observe(sender string, replied bool) {
	const alpha = 0.2
	key := strings.ToLower(sender)

	si.mu.Lock()
	defer si.mu.Unlock()
	target := 0.0
	if replied {
		target = 1.0
	}
	si.scores[key] = si.scores[key] + alpha*(target-si.scores[key])
}
