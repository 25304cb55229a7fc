package monitor

import (
	"context"
	"encoding/json"
	"testing"

	"polyalgo/internal/config"
	"polyalgo/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := store.NewSQLite(config.DatabaseConfig{InMemory: true, MaxOpenConns: 1, MaxIdleConns: 1})
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	svc, err := NewService(db, nil)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc
}

func TestService_RecordAndListEvents(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	svc.RecordFill(ctx, "order-1", FillPayload{TokenID: "token-1", Side: "BUY", Price: 0.5, Size: 2})
	svc.RecordStatus(ctx, "order-1", "ACTIVE", "COMPLETED")
	svc.RecordRejection(ctx, "order-2", RejectionPayload{TokenID: "token-2", Message: "market closed", Terminal: true})

	all, err := svc.ListEvents(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
	// 倒序返回，最后写入的拒单事件排在最前。
	if all[0].Type != EventRejection {
		t.Errorf("expected newest event first, got %s", all[0].Type)
	}

	fills, err := svc.ListEvents(ctx, EventFill, 10)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(fills) != 1 {
		t.Fatalf("expected 1 fill event, got %d", len(fills))
	}

	raw, ok := fills[0].Payload.(json.RawMessage)
	if !ok {
		t.Fatalf("expected raw payload, got %T", fills[0].Payload)
	}
	var payload FillPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("decoding fill payload: %v", err)
	}
	if payload.TokenID != "token-1" || payload.Size != 2 {
		t.Errorf("fill payload not round-tripped: %+v", payload)
	}
}

func TestService_ListEventsLimit(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		svc.RecordStatus(ctx, "order-1", "PENDING", "ACTIVE")
	}

	events, err := svc.ListEvents(ctx, EventStatus, 3)
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("expected limit to cap results at 3, got %d", len(events))
	}
}
