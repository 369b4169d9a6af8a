package core

import (
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestBudgetLedgerDailyCap(t *testing.T) {
	ledger := NewBudgetLedger(10.0, 1000.0, zap.NewNop())

	// 500 calls at $0.02 exactly fill a $10 day.
	for i := 0; i < 500; i++ {
		r, err := ledger.Reserve(0.02)
		if err != nil {
			t.Fatalf("reservation %d denied: %v", i+1, err)
		}
		r.Commit(0.02)
	}

	if _, err := ledger.Reserve(0.02); !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("501st reservation: got %v, want ErrBudgetExhausted", err)
	}
	if got := ledger.DailyUsage(); got < 9.999 || got > 10.001 {
		t.Fatalf("daily usage = %v, want 10.0", got)
	}
}

func TestBudgetLedgerMonthlyCap(t *testing.T) {
	ledger := NewBudgetLedger(100.0, 1.0, zap.NewNop())

	r, err := ledger.Reserve(0.8)
	if err != nil {
		t.Fatalf("first reservation denied: %v", err)
	}
	r.Commit(0.8)

	if _, err := ledger.Reserve(0.3); !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("over-monthly reservation: got %v, want ErrBudgetExhausted", err)
	}
}

func TestBudgetLedgerConcurrentReservations(t *testing.T) {
	ledger := NewBudgetLedger(1.0, 1000.0, zap.NewNop())

	var wg sync.WaitGroup
	granted := make(chan struct{}, 200)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := ledger.Reserve(0.01)
			if err != nil {
				return
			}
			r.Commit(0.01)
			granted <- struct{}{}
		}()
	}
	wg.Wait()
	close(granted)

	count := 0
	for range granted {
		count++
	}
	if count != 100 {
		t.Fatalf("granted %d reservations at $0.01 under a $1 cap, want 100", count)
	}
	if usage := ledger.DailyUsage(); usage > 1.0001 {
		t.Fatalf("daily usage %v exceeds cap", usage)
	}
}

func TestBudgetLedgerReleaseRefunds(t *testing.T) {
	ledger := NewBudgetLedger(1.0, 10.0, zap.NewNop())

	r, err := ledger.Reserve(0.5)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	r.Release()
	// Release must be idempotent with Commit.
	r.Commit(0.5)

	if usage := ledger.DailyUsage(); usage != 0 {
		t.Fatalf("daily usage after release = %v, want 0", usage)
	}
}

func TestBudgetLedgerCommitAdjustsEstimate(t *testing.T) {
	ledger := NewBudgetLedger(1.0, 10.0, zap.NewNop())

	r, err := ledger.Reserve(0.5)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	r.Commit(0.3)

	if usage := ledger.DailyUsage(); usage < 0.2999 || usage > 0.3001 {
		t.Fatalf("daily usage after commit = %v, want 0.3", usage)
	}
}

func TestBudgetLedgerDailyRollover(t *testing.T) {
	ledger := NewBudgetLedger(1.0, 100.0, zap.NewNop())

	rolledOver := false
	ledger.OnRollover(func() { rolledOver = true })

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	ledger.SetClock(func() time.Time { return base })

	r, err := ledger.Reserve(0.9)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	r.Commit(0.9)

	if _, err := ledger.Reserve(0.2); !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("same-day reservation: got %v, want ErrBudgetExhausted", err)
	}
	rolledOver = false

	// Next day: the daily bucket resets, the monthly bucket carries.
	ledger.SetClock(func() time.Time { return base.AddDate(0, 0, 1) })

	r2, err := ledger.Reserve(0.2)
	if err != nil {
		t.Fatalf("next-day reservation denied: %v", err)
	}
	r2.Commit(0.2)

	if !rolledOver {
		t.Fatal("rollover callback did not fire")
	}
	if got := ledger.DailyUsage(); got < 0.1999 || got > 0.2001 {
		t.Fatalf("daily usage after rollover = %v, want 0.2", got)
	}
	if got := ledger.MonthlyUsage(); got < 1.0999 || got > 1.1001 {
		t.Fatalf("monthly usage after rollover = %v, want 1.1", got)
	}
}
