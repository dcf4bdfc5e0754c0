// Package request holds the route-optimization request records and the status
// machine they move through.
package request

import (
	"time"

	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/compute"
)

// Status is the lifecycle state of a request.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusTimedOut   Status = "timed_out"
	StatusRefunded   Status = "refunded"
)

// Terminal reports whether no further lifecycle transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRefunded:
		return true
	}
	return false
}

// CanTransition reports whether the edge s -> next exists in the lifecycle
// graph. Pending -> TimedOut covers the long-elapsed timeout that skips
// Processing entirely.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusTimedOut
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed || next == StatusTimedOut
	case StatusFailed, StatusTimedOut:
		return next == StatusRefunded
	}
	return false
}

// MaxItemCount bounds the declared item count of a request.
const MaxItemCount = 50

// Request is a confidential route-optimization job. Records are never
// deleted; terminal states are retained for audit.
type Request struct {
	ID        uint64 `json:"id"`
	Owner     string `json:"owner"`
	ItemCount int    `json:"item_count"`

	// Encrypted scalar constraints supplied at creation.
	MaxDistance   compute.Handle `json:"max_distance,omitempty"`
	CapacityLimit compute.Handle `json:"capacity_limit,omitempty"`

	Status Status `json:"status"`

	// Deposit accounting: Stake + Fee always equals the original deposit.
	Stake int64 `json:"stake"`
	Fee   int64 `json:"fee"`

	// Multiplier is the per-request obfuscation multiplier, fixed at
	// creation. Never exposed over the API.
	Multiplier int64 `json:"-"`

	// RefundEligible starts true and flips to false exactly once, when the
	// stake is paid out. It never reverts to true.
	RefundEligible bool `json:"refund_eligible"`

	// CorrelationID links the oracle callback back to this request. Empty
	// until processing begins; write-once.
	CorrelationID string `json:"correlation_id,omitempty"`

	FailReason string `json:"fail_reason,omitempty"`

	CreatedAt    time.Time `json:"created_at"`
	ProcessingAt time.Time `json:"processing_at,omitempty"`
}

// Deposit returns the amount originally deposited.
func (r Request) Deposit() int64 {
	return r.Stake + r.Fee
}

// Item is one declared delivery stop. Owned exclusively by its parent
// request; immutable once the request leaves Pending.
type Item struct {
	RequestID uint64 `json:"request_id"`
	Index     int    `json:"index"`

	X      compute.Handle `json:"x"`
	Y      compute.Handle `json:"y"`
	Weight compute.Handle `json:"weight"`

	// Price carries the deterministic masking noise applied before storage.
	Price compute.Handle `json:"price"`

	Active bool `json:"active"`
}

// Result is the outcome record for a request. Revealed fields are meaningful
// only once Finalized is true.
type Result struct {
	RequestID uint64 `json:"request_id"`

	// Aggregate ciphertext handles submitted to the decryption oracle.
	Distance compute.Handle `json:"distance"`
	Cost     compute.Handle `json:"cost"`

	ItemOrder []int `json:"item_order"`

	Finalized        bool      `json:"finalized"`
	RevealedDistance int64     `json:"revealed_distance"`
	RevealedCost     int64     `json:"revealed_cost"`
	FinalizedAt      time.Time `json:"finalized_at,omitempty"`
}
