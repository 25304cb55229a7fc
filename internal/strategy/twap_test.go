package strategy

import (
	"math"
	"testing"
	"time"

	"polyalgo/internal/order"
)

func TestTWAP_NoExecutionBeforeFirstInterval(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ord := newTWAPOrder(t, 10, 10*time.Minute, 2*time.Minute, start)

	decision, err := Evaluate(ord, 0.5, start.Add(time.Minute))
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if decision.ShouldExecute {
		t.Errorf("expected no execution before first interval elapsed")
	}
	if decision.IsComplete {
		t.Errorf("expected IsComplete=false")
	}
}

func TestTWAP_FiresEvenSlices(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ord := newTWAPOrder(t, 10, 10*time.Minute, 2*time.Minute, start)

	decision, err := Evaluate(ord, 0.5, start.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if !decision.ShouldExecute {
		t.Fatalf("expected execution at first interval boundary")
	}
	// 10 总量拆成 5 片，每片 2。
	if diff := math.Abs(decision.ExecuteSize - 2); diff > 1e-9 {
		t.Errorf("expected slice size 2, got %f", decision.ExecuteSize)
	}
	if decision.IsComplete {
		t.Errorf("mid-schedule slice must not complete the order")
	}
}

func TestTWAP_IdempotentWithinInterval(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ord := newTWAPOrder(t, 10, 10*time.Minute, 2*time.Minute, start)

	fillAt := start.Add(2 * time.Minute)
	if err := ord.ApplyFill(order.Fill{Price: 0.5, Size: 2, Timestamp: fillAt}); err != nil {
		t.Fatalf("ApplyFill failed: %v", err)
	}

	// 同一周期内的第二次评估不得再次提交。
	decision, err := Evaluate(ord, 0.5, start.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if decision.ShouldExecute {
		t.Errorf("expected no duplicate slice within the same interval")
	}
}

func TestTWAP_LiquidatesRemainderAfterDeadline(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ord := newTWAPOrder(t, 10, 10*time.Minute, 2*time.Minute, start)
	if err := ord.ApplyFill(order.Fill{Price: 0.5, Size: 4, Timestamp: start.Add(4 * time.Minute)}); err != nil {
		t.Fatalf("ApplyFill failed: %v", err)
	}

	decision, err := Evaluate(ord, 0.5, start.Add(11*time.Minute))
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if !decision.ShouldExecute {
		t.Fatalf("expected final liquidation after deadline")
	}
	if diff := math.Abs(decision.ExecuteSize - 6); diff > 1e-9 {
		t.Errorf("expected remaining 6, got %f", decision.ExecuteSize)
	}
	if !decision.IsComplete {
		t.Errorf("expected IsComplete=true for final liquidation")
	}
}

func TestTWAP_CompletesWithoutExecutionWhenNothingLeft(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ord := newTWAPOrder(t, 10, 10*time.Minute, 2*time.Minute, start)
	if err := ord.ApplyFill(order.Fill{Price: 0.5, Size: 10, Timestamp: start.Add(8 * time.Minute)}); err != nil {
		t.Fatalf("ApplyFill failed: %v", err)
	}

	decision, err := Evaluate(ord, 0.5, start.Add(11*time.Minute))
	if err != nil {
		t.Fatalf("Evaluate returned error: %v", err)
	}
	if decision.ShouldExecute {
		t.Errorf("expected no execution when nothing remains")
	}
	if !decision.IsComplete {
		t.Errorf("expected IsComplete=true after deadline with no remainder")
	}
}

func newTWAPOrder(t *testing.T, total float64, duration, interval time.Duration, start time.Time) *order.AlgoOrder {
	t.Helper()
	ord, err := order.New(order.TypeTWAP, order.SideBuy, "token-1", total, order.Params{TWAP: &order.TWAPParams{
		TotalSize: total,
		Duration:  duration,
		Interval:  interval,
		StartTime: start,
	}})
	if err != nil {
		t.Fatalf("order.New failed: %v", err)
	}
	ord.Status = order.StatusActive
	return ord
}
