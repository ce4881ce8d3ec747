package quota

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
)

func TestAccumulateSumsPerUser(t *testing.T) {
	table := NewDeltaTable()

	table.Accumulate("alice", decimal.RequireFromString("0.1"))
	table.Accumulate("alice", decimal.RequireFromString("0.2"))
	table.Accumulate("bob", decimal.RequireFromString("1"))

	if got := table.Pending("alice"); !got.Equal(decimal.RequireFromString("0.3")) {
		t.Fatalf("alice pending = %s, want 0.3", got)
	}
	if got := table.Pending("bob"); !got.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("bob pending = %s, want 1", got)
	}
	if got := table.Pending("carol"); !got.IsZero() {
		t.Fatalf("unknown user pending = %s, want 0", got)
	}
}

func TestConcurrentAccumulateLosesNothing(t *testing.T) {
	table := NewDeltaTable()
	const workers = 16
	const perWorker = 200
	unit := decimal.RequireFromString("0.01")

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				table.Accumulate("alice", unit)
			}
		}()
	}
	wg.Wait()

	want := unit.Mul(decimal.NewFromInt(workers * perWorker))
	if got := table.Pending("alice"); !got.Equal(want) {
		t.Fatalf("pending = %s, want %s", got, want)
	}
}

func TestConcurrentAccumulateAndFlushSumsExactly(t *testing.T) {
	table := NewDeltaTable()
	const workers = 8
	const perWorker = 200
	unit := decimal.RequireFromString("0.01")

	var flushed decimal.Decimal
	var flushMu sync.Mutex
	persist := func(pending decimal.Decimal) error {
		flushMu.Lock()
		flushed = flushed.Add(pending)
		flushMu.Unlock()
		return nil
	}

	stop := make(chan struct{})
	flusherDone := make(chan struct{})
	go func() {
		defer close(flusherDone)
		for {
			select {
			case <-stop:
				return
			default:
				_ = table.flush("alice", persist)
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				table.Accumulate("alice", unit)
			}
		}()
	}

	// Let the workers finish, stop the flusher, then drain the remainder.
	wg.Wait()
	close(stop)
	<-flusherDone
	if err := table.flush("alice", persist); err != nil {
		t.Fatalf("final flush: %v", err)
	}

	want := unit.Mul(decimal.NewFromInt(workers * perWorker))
	total := flushed.Add(table.Pending("alice"))
	if !total.Equal(want) {
		t.Fatalf("flushed+pending = %s, want %s", total, want)
	}
}

func TestFlushZeroDeltaIsNoOp(t *testing.T) {
	table := NewDeltaTable()
	table.Accumulate("alice", decimal.Zero)

	calls := 0
	err := table.flush("alice", func(decimal.Decimal) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if calls != 0 {
		t.Fatalf("zero delta should not persist, got %d calls", calls)
	}
}

func TestFlushKeepsDeltaOnPersistFailure(t *testing.T) {
	table := NewDeltaTable()
	table.Accumulate("alice", decimal.RequireFromString("0.5"))

	err := table.flush("alice", func(decimal.Decimal) error {
		return errTest
	})
	if err == nil {
		t.Fatal("expected persist error to propagate")
	}
	if got := table.Pending("alice"); !got.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("failed flush must keep the delta, got %s", got)
	}
}
