package core

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BudgetLedger tracks model spend against rolling daily and monthly
// caps. Reservations are checked-and-incremented under one lock so two
// concurrent callers can never both pass a check that together exceeds
// a cap. Bucket rollover is lazy: the first reservation of a new day
// or month resets that bucket's spend.
type BudgetLedger struct {
	mu sync.Mutex

	dailyCap   float64
	monthlyCap float64

	day        string
	daySpend   float64
	month      string
	monthSpend float64

	logger *zap.Logger
	now    func() time.Time

	// onRollover fires (outside the lock) after a new day bucket
	// opens. The scheduler uses it to drain deferred emails.
	onRollover func()
}

// NewBudgetLedger creates a ledger with the given caps.
func NewBudgetLedger(dailyCap, monthlyCap float64, logger *zap.Logger) *BudgetLedger {
	l := &BudgetLedger{
		dailyCap:   dailyCap,
		monthlyCap: monthlyCap,
		logger:     logger,
		now:        time.Now,
	}
	t := l.now()
	l.day = t.Format("2006-01-02")
	l.month = t.Format("2006-01")
	return l
}

// OnRollover registers a callback invoked after a daily bucket rolls
// over. Must be called before the ledger is shared between workers.
func (l *BudgetLedger) OnRollover(fn func()) {
	l.onRollover = fn
}

// SetClock overrides the ledger clock. Test hook.
func (l *BudgetLedger) SetClock(now func() time.Time) {
	l.now = now
}

// Reservation is a successful budget hold for one model call. Exactly
// one of Commit or Release must be called.
type Reservation struct {
	ledger    *BudgetLedger
	estimated float64
	settled   bool
}

// Reserve atomically checks both caps and records the estimated cost.
// A reservation that would push either bucket over its cap is denied
// before execution; denied reservations record no spend.
func (l *BudgetLedger) Reserve(estimated float64) (*Reservation, error) {
	if estimated < 0 {
		return nil, fmt.Errorf("negative cost estimate %.4f", estimated)
	}

	l.mu.Lock()
	rolled := l.rollover()
	if l.daySpend+estimated > l.dailyCap {
		l.mu.Unlock()
		l.notifyRollover(rolled)
		return nil, fmt.Errorf("%w: daily cap %.2f, spent %.4f, estimated %.4f",
			ErrBudgetExhausted, l.dailyCap, l.daySpend, estimated)
	}
	if l.monthSpend+estimated > l.monthlyCap {
		l.mu.Unlock()
		l.notifyRollover(rolled)
		return nil, fmt.Errorf("%w: monthly cap %.2f, spent %.4f, estimated %.4f",
			ErrBudgetExhausted, l.monthlyCap, l.monthSpend, estimated)
	}
	l.daySpend += estimated
	l.monthSpend += estimated
	l.mu.Unlock()

	l.notifyRollover(rolled)
	return &Reservation{ledger: l, estimated: estimated}, nil
}

// Commit settles the reservation at the actual cost, adjusting the
// difference against the estimate.
func (r *Reservation) Commit(actual float64) {
	if r.settled {
		return
	}
	r.settled = true

	l := r.ledger
	l.mu.Lock()
	delta := actual - r.estimated
	l.daySpend += delta
	l.monthSpend += delta
	if l.daySpend < 0 {
		l.daySpend = 0
	}
	if l.monthSpend < 0 {
		l.monthSpend = 0
	}
	l.mu.Unlock()
}

// Release returns the reserved amount without recording spend, used
// when the model call never happened or failed without charge.
func (r *Reservation) Release() {
	if r.settled {
		return
	}
	r.settled = true

	l := r.ledger
	l.mu.Lock()
	l.daySpend -= r.estimated
	l.monthSpend -= r.estimated
	if l.daySpend < 0 {
		l.daySpend = 0
	}
	if l.monthSpend < 0 {
		l.monthSpend = 0
	}
	l.mu.Unlock()
}

// DailyUsage returns the current day bucket's spend.
func (l *BudgetLedger) DailyUsage() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()
	return l.daySpend
}

// MonthlyUsage returns the current month bucket's spend.
func (l *BudgetLedger) MonthlyUsage() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()
	return l.monthSpend
}

// DailyRemaining returns the unspent daily allowance.
func (l *BudgetLedger) DailyRemaining() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rolloverLocked()
	remaining := l.dailyCap - l.daySpend
	if remaining < 0 {
		return 0
	}
	return remaining
}

// rollover resets stale buckets and reports whether the day changed.
// Caller must hold the lock.
func (l *BudgetLedger) rollover() bool {
	t := l.now()
	day := t.Format("2006-01-02")
	month := t.Format("2006-01")

	rolled := false
	if day != l.day {
		l.logger.Info("budget day bucket rolled over",
			zap.String("from", l.day),
			zap.String("to", day),
			zap.Float64("spent", l.daySpend))
		l.day = day
		l.daySpend = 0
		rolled = true
	}
	if month != l.month {
		l.month = month
		l.monthSpend = 0
	}
	return rolled
}

func (l *BudgetLedger) rolloverLocked() {
	l.rollover()
}

func (l *BudgetLedger) notifyRollover(rolled bool) {
	if rolled && l.onRollover != nil {
		l.onRollover()
	}
}
