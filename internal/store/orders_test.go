package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"polyalgo/internal/config"
	"polyalgo/internal/order"
)

func newTestStore(t *testing.T) *OrderStore {
	t.Helper()
	// 内存库的不同连接互不可见，必须限制为单连接。
	s, err := NewSQLite(config.DatabaseConfig{InMemory: true, MaxOpenConns: 1, MaxIdleConns: 1})
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	orders, err := NewOrderStore(s, nil)
	if err != nil {
		t.Fatalf("NewOrderStore failed: %v", err)
	}
	return orders
}

func TestOrderStore_SaveLoadRoundTrip(t *testing.T) {
	orders := newTestStore(t)
	ctx := context.Background()

	trigger := 0.9
	ord, err := order.New(order.TypeTrailingStop, order.SideSell, "token-1", 25, order.Params{Trailing: &order.TrailingParams{
		TrailPercent: 5,
		TriggerPrice: &trigger,
	}})
	if err != nil {
		t.Fatalf("order.New failed: %v", err)
	}
	ord.State = order.State{Activated: true, ExtremePrice: 0.95}
	ord.LastError = "network glitch"

	if err := orders.Save(ctx, ord); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := orders.Load(ctx, ord.ID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Type != order.TypeTrailingStop || loaded.Side != order.SideSell {
		t.Errorf("type/side mismatch: %s %s", loaded.Type, loaded.Side)
	}
	if loaded.Params.Trailing == nil || loaded.Params.Trailing.TrailPercent != 5 {
		t.Errorf("trailing params not round-tripped: %+v", loaded.Params)
	}
	if loaded.Params.Trailing.TriggerPrice == nil || *loaded.Params.Trailing.TriggerPrice != trigger {
		t.Errorf("trigger price not round-tripped")
	}
	if !loaded.State.Activated || loaded.State.ExtremePrice != 0.95 {
		t.Errorf("state not round-tripped: %+v", loaded.State)
	}
	if loaded.LastError != "network glitch" {
		t.Errorf("last error not round-tripped: %q", loaded.LastError)
	}
}

func TestOrderStore_SaveDoesNotOverwriteStatus(t *testing.T) {
	orders := newTestStore(t)
	ctx := context.Background()

	ord := newStoredTWAP(t, orders)
	if err := orders.UpdateStatus(ctx, ord.ID, order.StatusPending, order.StatusActive, time.Now()); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	// 基于陈旧快照的进度回写不得动状态列。
	ord.Status = order.StatusPending
	ord.ExecutedSize = 4
	if err := orders.Save(ctx, ord); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	loaded, err := orders.Load(ctx, ord.ID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Status != order.StatusActive {
		t.Errorf("stale snapshot must not clobber status, got %s", loaded.Status)
	}
	if loaded.ExecutedSize != 4 {
		t.Errorf("expected executed=4, got %f", loaded.ExecutedSize)
	}
}

func TestOrderStore_UpdateStatusIsGuarded(t *testing.T) {
	orders := newTestStore(t)
	ctx := context.Background()

	ord := newStoredTWAP(t, orders)

	// 预期状态不匹配时拒绝迁移。
	if err := orders.UpdateStatus(ctx, ord.ID, order.StatusActive, order.StatusPaused, time.Now()); !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict, got %v", err)
	}
	if err := orders.UpdateStatus(ctx, "missing", order.StatusActive, order.StatusPaused, time.Now()); !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict for unknown order, got %v", err)
	}

	if err := orders.UpdateStatus(ctx, ord.ID, order.StatusPending, order.StatusActive, time.Now()); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	loaded, err := orders.Load(ctx, ord.ID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Status != order.StatusActive {
		t.Errorf("expected ACTIVE after guarded update, got %s", loaded.Status)
	}
}

func TestOrderStore_AppendFillAttachesHistory(t *testing.T) {
	orders := newTestStore(t)
	ctx := context.Background()

	ord := newStoredTWAP(t, orders)
	fills := []order.Fill{
		{Price: 0.51, Size: 2, Timestamp: time.Now().UTC()},
		{Price: 0.52, Size: 2, Timestamp: time.Now().UTC().Add(time.Minute)},
	}
	for _, f := range fills {
		if err := orders.AppendFill(ctx, ord.ID, f); err != nil {
			t.Fatalf("AppendFill failed: %v", err)
		}
	}

	loaded, err := orders.Load(ctx, ord.ID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded.Fills) != 2 {
		t.Fatalf("expected 2 fills, got %d", len(loaded.Fills))
	}
	if loaded.Fills[0].Price != 0.51 || loaded.Fills[1].Price != 0.52 {
		t.Errorf("fills out of order: %+v", loaded.Fills)
	}
}

func TestOrderStore_ListActiveFiltersByStatus(t *testing.T) {
	orders := newTestStore(t)
	ctx := context.Background()

	active := newStoredTWAP(t, orders)
	if err := orders.UpdateStatus(ctx, active.ID, order.StatusPending, order.StatusActive, time.Now()); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	newStoredTWAP(t, orders)

	got, err := orders.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != active.ID {
		t.Errorf("expected only the active order, got %d", len(got))
	}

	all, err := orders.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 orders total, got %d", len(all))
	}
}

func TestOrderStore_LoadMissingReturnsNotFound(t *testing.T) {
	orders := newTestStore(t)
	if _, err := orders.Load(context.Background(), "missing"); err != ErrOrderNotFound {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

func newStoredTWAP(t *testing.T, orders *OrderStore) *order.AlgoOrder {
	t.Helper()
	ord, err := order.New(order.TypeTWAP, order.SideBuy, "token-1", 10, order.Params{TWAP: &order.TWAPParams{
		TotalSize: 10,
		Duration:  10 * time.Minute,
		Interval:  2 * time.Minute,
		StartTime: time.Now().UTC(),
	}})
	if err != nil {
		t.Fatalf("order.New failed: %v", err)
	}
	if err := orders.Save(context.Background(), ord); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	return ord
}
