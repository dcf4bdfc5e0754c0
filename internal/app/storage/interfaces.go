package storage

import (
	"context"
	"errors"

	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/domain/access"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/domain/request"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/domain/settlement"
)

// ErrConflict reports that a conditional update found the stored record in a
// different state than the caller expected: some concurrent writer got there
// first and the caller must not treat its stale copy as current.
var ErrConflict = errors.New("storage: stale state, concurrent update won")

// RequestStore persists request, item, and result records.
//
// Every mutating method executes as an indivisible unit: no two mutations on
// the same request interleave partially observed state, and the id sequence
// is advanced atomically with the record it numbers. CreateRequest also
// credits the fee pool with the request's fee in the same unit, because the
// accumulator invariant ties the two together.
type RequestStore interface {
	CreateRequest(ctx context.Context, req request.Request) (request.Request, error)
	UpdateRequest(ctx context.Context, req request.Request) (request.Request, error)

	// UpdateRequestIf applies the update only while the stored record still
	// carries the expected status and refund flag, as one atomic
	// compare-and-set. When a concurrent writer changed either field first it
	// returns ErrConflict and leaves the record untouched. Status transitions
	// and the refund-eligibility flip go through this method so that exactly
	// one of any set of racing claimants wins.
	UpdateRequestIf(ctx context.Context, req request.Request, expectStatus request.Status, expectRefundEligible bool) (request.Request, error)

	GetRequest(ctx context.Context, id uint64) (request.Request, error)
	ListRequestsByOwner(ctx context.Context, owner string) ([]request.Request, error)
	ListRequestsByStatus(ctx context.Context, status request.Status) ([]request.Request, error)

	// PutItem is an idempotent upsert keyed by (request id, index).
	PutItem(ctx context.Context, item request.Item) error
	ListItems(ctx context.Context, requestID uint64) ([]request.Item, error)

	PutResult(ctx context.Context, res request.Result) error
	GetResult(ctx context.Context, requestID uint64) (request.Result, error)

	// PutCorrelation records correlation id -> request id, write-once.
	PutCorrelation(ctx context.Context, correlationID string, requestID uint64) error
	GetCorrelation(ctx context.Context, correlationID string) (uint64, error)
}

// SettlementStore persists the fee pool and payout history.
type SettlementStore interface {
	FeePool(ctx context.Context) (settlement.FeePool, error)

	// TakeFees zeroes the accumulator and returns its prior value.
	TakeFees(ctx context.Context) (int64, error)

	// RestoreFees re-credits fees after a failed outbound transfer.
	RestoreFees(ctx context.Context, amount int64) error

	RecordPayout(ctx context.Context, p settlement.Payout) (settlement.Payout, error)
	ListPayouts(ctx context.Context, requestID uint64) ([]settlement.Payout, error)
}

// AccessStore persists role grants, the pause flag, and the owner principal.
type AccessStore interface {
	Owner(ctx context.Context) (string, error)
	SetOwner(ctx context.Context, principal string) error

	HasRole(ctx context.Context, principal string, role access.Role) (bool, error)
	SetRole(ctx context.Context, principal string, role access.Role, granted bool) error
	ListRoleHolders(ctx context.Context, role access.Role) ([]string, error)

	Paused(ctx context.Context) (bool, error)
	SetPaused(ctx context.Context, paused bool) error
}
