package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/domain/access"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/domain/request"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/domain/settlement"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/storage"
)

func TestCreateRequestAssignsSequentialIDsAndCreditsFees(t *testing.T) {
	store := New()
	ctx := context.Background()

	first, err := store.CreateRequest(ctx, request.Request{Owner: "alice", Status: request.StatusPending, Stake: 98, Fee: 2, RefundEligible: true})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, err := store.CreateRequest(ctx, request.Request{Owner: "bob", Status: request.StatusPending, Stake: 49, Fee: 1, RefundEligible: true})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}

	if first.ID != 1 || second.ID != 2 {
		t.Fatalf("expected ids 1 and 2, got %d and %d", first.ID, second.ID)
	}

	pool, err := store.FeePool(ctx)
	if err != nil {
		t.Fatalf("fee pool: %v", err)
	}
	if pool.Accumulated != 3 {
		t.Fatalf("expected accumulated fees 3, got %d", pool.Accumulated)
	}
}

func TestUpdateRequestPreservesCreationFields(t *testing.T) {
	store := New()
	ctx := context.Background()

	created, err := store.CreateRequest(ctx, request.Request{Owner: "alice", Status: request.StatusPending, Stake: 98, Fee: 2, Multiplier: 4242, RefundEligible: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	mutated := created
	mutated.Status = request.StatusProcessing
	mutated.Owner = "mallory"
	mutated.Stake = 0
	mutated.Multiplier = 1

	updated, err := store.UpdateRequest(ctx, mutated)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != request.StatusProcessing {
		t.Fatalf("expected status processing, got %s", updated.Status)
	}
	if updated.Owner != "alice" || updated.Stake != 98 || updated.Multiplier != 4242 {
		t.Fatalf("creation-time fields changed: %+v", updated)
	}
}

func TestUpdateRequestIfAppliesOnlyOnMatch(t *testing.T) {
	store := New()
	ctx := context.Background()

	created, err := store.CreateRequest(ctx, request.Request{Owner: "alice", Status: request.StatusPending, Stake: 49, Fee: 1, RefundEligible: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	claim := created
	claim.Status = request.StatusTimedOut
	claim.RefundEligible = false
	updated, err := store.UpdateRequestIf(ctx, claim, request.StatusPending, true)
	if err != nil {
		t.Fatalf("first conditional update: %v", err)
	}
	if updated.Status != request.StatusTimedOut || updated.RefundEligible {
		t.Fatalf("claim not applied: %+v", updated)
	}

	// A second claimant carrying the same stale expectation loses.
	if _, err := store.UpdateRequestIf(ctx, claim, request.StatusPending, true); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	final, err := store.GetRequest(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.Status != request.StatusTimedOut || final.RefundEligible {
		t.Fatalf("loser mutated the record: %+v", final)
	}
}

func TestUpdateRequestIfPreservesCreationFields(t *testing.T) {
	store := New()
	ctx := context.Background()

	created, err := store.CreateRequest(ctx, request.Request{Owner: "alice", Status: request.StatusPending, Stake: 98, Fee: 2, Multiplier: 4242, RefundEligible: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	mutated := created
	mutated.Status = request.StatusProcessing
	mutated.Owner = "mallory"
	mutated.Stake = 0
	mutated.Multiplier = 1

	updated, err := store.UpdateRequestIf(ctx, mutated, request.StatusPending, true)
	if err != nil {
		t.Fatalf("conditional update: %v", err)
	}
	if updated.Owner != "alice" || updated.Stake != 98 || updated.Multiplier != 4242 {
		t.Fatalf("creation-time fields changed: %+v", updated)
	}
}

func TestUpdateRequestIfUnknownID(t *testing.T) {
	store := New()
	_, err := store.UpdateRequestIf(context.Background(), request.Request{ID: 99}, request.StatusPending, true)
	if err == nil || errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestUpdateRequestUnknownID(t *testing.T) {
	store := New()
	if _, err := store.UpdateRequest(context.Background(), request.Request{ID: 99}); err == nil {
		t.Fatal("expected error for unknown request")
	}
}

func TestListRequestsByStatusSortedByID(t *testing.T) {
	store := New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.CreateRequest(ctx, request.Request{Owner: "alice", Status: request.StatusPending}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	second, _ := store.GetRequest(ctx, 2)
	second.Status = request.StatusProcessing
	if _, err := store.UpdateRequest(ctx, second); err != nil {
		t.Fatalf("update: %v", err)
	}

	pending, err := store.ListRequestsByStatus(ctx, request.StatusPending)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != 1 || pending[1].ID != 3 {
		t.Fatalf("unexpected pending set: %+v", pending)
	}
}

func TestPutItemUpsertsByIndex(t *testing.T) {
	store := New()
	ctx := context.Background()

	req, err := store.CreateRequest(ctx, request.Request{Owner: "alice", Status: request.StatusPending})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := store.PutItem(ctx, request.Item{RequestID: req.ID, Index: 0, X: "h1", Active: true}); err != nil {
		t.Fatalf("put item: %v", err)
	}
	if err := store.PutItem(ctx, request.Item{RequestID: req.ID, Index: 0, X: "h2", Active: true}); err != nil {
		t.Fatalf("re-put item: %v", err)
	}
	if err := store.PutItem(ctx, request.Item{RequestID: req.ID, Index: 1, X: "h3", Active: true}); err != nil {
		t.Fatalf("put second item: %v", err)
	}

	items, err := store.ListItems(ctx, req.ID)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].X != "h2" {
		t.Fatalf("upsert did not replace item 0: %+v", items[0])
	}
}

func TestPutItemUnknownRequest(t *testing.T) {
	store := New()
	if err := store.PutItem(context.Background(), request.Item{RequestID: 7, Index: 0}); err == nil {
		t.Fatal("expected error for unknown request")
	}
}

func TestCorrelationWriteOnce(t *testing.T) {
	store := New()
	ctx := context.Background()

	if err := store.PutCorrelation(ctx, "corr-1", 1); err != nil {
		t.Fatalf("first put: %v", err)
	}
	if err := store.PutCorrelation(ctx, "corr-1", 2); err == nil {
		t.Fatal("expected write-once violation error")
	}
	id, err := store.GetCorrelation(ctx, "corr-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected original mapping 1, got %d", id)
	}
}

func TestTakeAndRestoreFees(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.CreateRequest(ctx, request.Request{Owner: "alice", Status: request.StatusPending, Fee: 5}); err != nil {
		t.Fatalf("create: %v", err)
	}

	taken, err := store.TakeFees(ctx)
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if taken != 5 {
		t.Fatalf("expected 5, got %d", taken)
	}

	pool, _ := store.FeePool(ctx)
	if pool.Accumulated != 0 || pool.TotalWithdrawn != 5 {
		t.Fatalf("unexpected pool after take: %+v", pool)
	}

	if err := store.RestoreFees(ctx, taken); err != nil {
		t.Fatalf("restore: %v", err)
	}
	pool, _ = store.FeePool(ctx)
	if pool.Accumulated != 5 || pool.TotalWithdrawn != 0 {
		t.Fatalf("unexpected pool after restore: %+v", pool)
	}
}

func TestRecordPayoutFillsDefaults(t *testing.T) {
	store := New()
	ctx := context.Background()

	p, err := store.RecordPayout(ctx, settlement.Payout{RequestID: 1, Kind: settlement.PayoutRefund, To: "alice", Amount: 98})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if p.ID == "" || p.IssuedAt.IsZero() {
		t.Fatalf("expected generated id and timestamp: %+v", p)
	}

	all, err := store.ListPayouts(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 payout, got %d", len(all))
	}
}

func TestRolesAndPause(t *testing.T) {
	store := New()
	ctx := context.Background()

	if err := store.SetRole(ctx, "op-1", access.RoleOperator, true); err != nil {
		t.Fatalf("grant: %v", err)
	}
	has, err := store.HasRole(ctx, "op-1", access.RoleOperator)
	if err != nil || !has {
		t.Fatalf("expected operator role, has=%v err=%v", has, err)
	}

	if err := store.SetRole(ctx, "op-1", access.RoleOperator, false); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	has, _ = store.HasRole(ctx, "op-1", access.RoleOperator)
	if has {
		t.Fatal("expected role revoked")
	}

	if err := store.SetPaused(ctx, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	paused, _ := store.Paused(ctx)
	if !paused {
		t.Fatal("expected paused")
	}
}
