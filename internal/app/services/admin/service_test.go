package admin

import (
	"context"
	"testing"
	"time"

	apperr "github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/errors"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/domain/access"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/domain/request"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/domain/settlement"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/events"
	accesssvc "github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/services/access"
	lifecyclesvc "github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/services/lifecycle"
	settlementsvc "github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/services/settlement"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/storage/memory"
)

type harness struct {
	store  *memory.Store
	access *accesssvc.Service
	events *events.Log
	svc    *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memory.New()
	eventLog := events.NewLog(100)
	acc := accesssvc.New(store, eventLog, nil)
	if err := acc.Bootstrap(context.Background(), "owner-1"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	settle := settlementsvc.New(store, store, acc, nil, eventLog, lifecyclesvc.DefaultConfig(), nil)
	svc := New(acc, settle, eventLog, nil)
	return &harness{store: store, access: acc, events: eventLog, svc: svc}
}

func TestRoleDelegation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.svc.GrantRole(ctx, "owner-1", "op-1", access.RoleOperator); err != nil {
		t.Fatalf("grant: %v", err)
	}
	ok, err := h.access.HasRole(ctx, "op-1", access.RoleOperator)
	if err != nil || !ok {
		t.Fatalf("expected operator role, ok=%v err=%v", ok, err)
	}
	if err := h.svc.RevokeRole(ctx, "owner-1", "op-1", access.RoleOperator); err != nil {
		t.Fatalf("revoke: %v", err)
	}
}

func TestEmergencyDrainRequiresPause(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.svc.EmergencyDrain(ctx, "owner-1", "recovery"); err == nil {
		t.Fatal("drain without pause must fail")
	}

	if _, err := h.svc.EmergencyDrain(ctx, "mallory", "recovery"); apperr.CodeOf(err) != apperr.CodeNotAuthorized {
		t.Fatalf("drain by non-admin: got %v", err)
	}
}

func TestEmergencyDrainSweepsFeesAndTerminalStakes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// One failed request with an unrefunded stake of 49, fee 1.
	failed, err := h.store.CreateRequest(ctx, request.Request{
		Owner:          "alice",
		Status:         request.StatusFailed,
		Stake:          49,
		Fee:            1,
		RefundEligible: true,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create failed request: %v", err)
	}
	// One completed request whose stake must stay untouched.
	completed, err := h.store.CreateRequest(ctx, request.Request{
		Owner:          "bob",
		Status:         request.StatusCompleted,
		Stake:          98,
		Fee:            2,
		RefundEligible: true,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create completed request: %v", err)
	}

	if err := h.svc.Pause(ctx, "owner-1"); err != nil {
		t.Fatalf("pause: %v", err)
	}

	total, err := h.svc.EmergencyDrain(ctx, "owner-1", "recovery")
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	// Fees 1+2 plus the failed stake 49.
	if total != 52 {
		t.Fatalf("drained %d, want 52", total)
	}

	pool, _ := h.store.FeePool(ctx)
	if pool.Accumulated != 0 {
		t.Fatalf("fee pool = %d after drain, want 0", pool.Accumulated)
	}

	sweptReq, _ := h.store.GetRequest(ctx, failed.ID)
	if sweptReq.RefundEligible {
		t.Fatal("drained stake must no longer be refundable")
	}
	untouched, _ := h.store.GetRequest(ctx, completed.ID)
	if !untouched.RefundEligible {
		t.Fatal("completed request must not be swept")
	}

	payouts, _ := h.store.ListPayouts(ctx, 0)
	var drains int
	for _, p := range payouts {
		if p.Kind == settlement.PayoutEmergency {
			drains++
			if p.Amount != 52 || p.To != "recovery" {
				t.Fatalf("unexpected drain payout %+v", p)
			}
		}
	}
	if drains != 1 {
		t.Fatalf("expected 1 drain payout, got %d", drains)
	}

	if got := h.events.RecentByType(events.TypeEmergencyDrain, 10); len(got) != 1 {
		t.Fatalf("expected 1 drain event, got %d", len(got))
	}
}
