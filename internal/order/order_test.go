package order

import (
	"strings"
	"testing"
	"time"
)

func TestNew_CreatesPendingOrder(t *testing.T) {
	ord, err := New(TypeTWAP, SideBuy, "token-1", 10, Params{TWAP: &TWAPParams{
		TotalSize: 10,
		Duration:  10 * time.Minute,
		Interval:  2 * time.Minute,
		StartTime: time.Now(),
	}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if ord.ID == "" {
		t.Errorf("expected non-empty order id")
	}
	if ord.Status != StatusPending {
		t.Errorf("expected status PENDING, got %s", ord.Status)
	}
	if ord.Remaining() != 10 {
		t.Errorf("expected remaining=10, got %f", ord.Remaining())
	}
}

func TestNew_RejectsInvalidParams(t *testing.T) {
	cases := []struct {
		name   string
		typ    Type
		side   Side
		token  string
		size   float64
		params Params
	}{
		{"missing twap params", TypeTWAP, SideBuy, "token-1", 10, Params{}},
		{"interval exceeds duration", TypeTWAP, SideBuy, "token-1", 10, Params{TWAP: &TWAPParams{
			TotalSize: 10, Duration: time.Minute, Interval: 2 * time.Minute, StartTime: time.Now(),
		}}},
		{"stop without any price", TypeStopLoss, SideBuy, "token-1", 10, Params{Stop: &StopParams{}}},
		{"trail percent out of range", TypeTrailingStop, SideSell, "token-1", 10, Params{Trailing: &TrailingParams{
			TrailPercent: 100,
		}}},
		{"non-positive size", TypeStopLoss, SideBuy, "token-1", 0, Params{Stop: &StopParams{StopLossPrice: fptr(0.4)}}},
		{"empty token", TypeStopLoss, SideBuy, "  ", 10, Params{Stop: &StopParams{StopLossPrice: fptr(0.4)}}},
		{"invalid side", TypeStopLoss, Side("HOLD"), "token-1", 10, Params{Stop: &StopParams{StopLossPrice: fptr(0.4)}}},
		{"unknown type", Type("ICEBERG"), SideBuy, "token-1", 10, Params{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.typ, tc.side, tc.token, tc.size, tc.params); err == nil {
				t.Fatalf("expected error for %s", tc.name)
			}
		})
	}
}

func TestTransition_AllowsLifecyclePath(t *testing.T) {
	ord := stopOrder(t)
	now := time.Now()

	steps := []Status{StatusActive, StatusPaused, StatusActive, StatusCompleted}
	for _, to := range steps {
		if err := ord.Transition(to, now); err != nil {
			t.Fatalf("transition to %s failed: %v", to, err)
		}
	}
	if ord.Status != StatusCompleted {
		t.Errorf("expected final status COMPLETED, got %s", ord.Status)
	}
}

func TestTransition_RejectsIllegalMoves(t *testing.T) {
	cases := []struct {
		from Status
		to   Status
	}{
		{StatusPending, StatusPaused},
		{StatusPending, StatusCompleted},
		{StatusPaused, StatusCompleted},
		{StatusCompleted, StatusActive},
		{StatusCancelled, StatusActive},
		{StatusFailed, StatusActive},
		{StatusActive, StatusActive},
	}

	for _, tc := range cases {
		ord := stopOrder(t)
		ord.Status = tc.from
		if err := ord.Transition(tc.to, time.Now()); err == nil {
			t.Errorf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
	}
}

func TestApplyFill_AccumulatesMonotonically(t *testing.T) {
	ord := stopOrder(t)
	now := time.Now()

	if err := ord.ApplyFill(Fill{Price: 0.5, Size: 4, Timestamp: now}); err != nil {
		t.Fatalf("first fill failed: %v", err)
	}
	if err := ord.ApplyFill(Fill{Price: 0.52, Size: 6, Timestamp: now}); err != nil {
		t.Fatalf("second fill failed: %v", err)
	}
	if ord.ExecutedSize != 10 {
		t.Errorf("expected executed=10, got %f", ord.ExecutedSize)
	}
	if ord.Remaining() != 0 {
		t.Errorf("expected remaining=0, got %f", ord.Remaining())
	}
	if len(ord.Fills) != 2 {
		t.Errorf("expected 2 fills, got %d", len(ord.Fills))
	}
}

func TestApplyFill_RejectsOverfillAndNonPositive(t *testing.T) {
	ord := stopOrder(t)
	now := time.Now()

	if err := ord.ApplyFill(Fill{Price: 0.5, Size: 0, Timestamp: now}); err == nil {
		t.Errorf("expected error for zero-size fill")
	}
	if err := ord.ApplyFill(Fill{Price: 0.5, Size: 8, Timestamp: now}); err != nil {
		t.Fatalf("fill failed: %v", err)
	}
	if err := ord.ApplyFill(Fill{Price: 0.5, Size: 3, Timestamp: now}); err == nil {
		t.Errorf("expected overfill to be rejected")
	}
	if !strings.Contains(errString(ord.ApplyFill(Fill{Price: 0.5, Size: 3, Timestamp: now})), "超过目标数量") {
		t.Errorf("expected overfill error message")
	}
}

func stopOrder(t *testing.T) *AlgoOrder {
	t.Helper()
	ord, err := New(TypeStopLoss, SideBuy, "token-1", 10, Params{Stop: &StopParams{StopLossPrice: fptr(0.4)}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return ord
}

func fptr(v float64) *float64 {
	return &v
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
