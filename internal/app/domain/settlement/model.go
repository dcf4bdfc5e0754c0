// Package settlement holds the economic records: the platform fee pool,
// payout history, and refund eligibility verdicts.
package settlement

import "time"

// FeePool is the global accumulator of undistributed platform fees. It
// increases only at request creation and decreases only through an explicit
// withdrawal or emergency drain.
type FeePool struct {
	Accumulated    int64 `json:"accumulated"`
	TotalWithdrawn int64 `json:"total_withdrawn"`
}

// Payout records a single transfer out of the system: a stake refund, a fee
// withdrawal, or an emergency drain.
type Payout struct {
	ID        string     `json:"id"`
	RequestID uint64     `json:"request_id,omitempty"` // zero for fee withdrawals and drains
	Kind      PayoutKind `json:"kind"`
	To        string     `json:"to"`
	Amount    int64      `json:"amount"`
	IssuedAt  time.Time  `json:"issued_at"`
}

// PayoutKind classifies a payout.
type PayoutKind string

const (
	PayoutRefund        PayoutKind = "refund"
	PayoutFeeWithdrawal PayoutKind = "fee_withdrawal"
	PayoutEmergency     PayoutKind = "emergency_drain"
)

// Reason explains a refund eligibility verdict.
type Reason string

const (
	ReasonCompleted         Reason = "completed successfully"
	ReasonDecryptionFailed  Reason = "decryption failed"
	ReasonStillProcessing   Reason = "still processing"
	ReasonProcessingTimeout Reason = "processing timeout"
	ReasonStillPending      Reason = "still pending"
	ReasonRequestTimeout    Reason = "request timeout"
	ReasonAlreadyRefunded   Reason = "already refunded"
)

// Eligibility is the verdict of a refund eligibility check. Computing it
// never mutates state.
type Eligibility struct {
	Eligible bool   `json:"eligible"`
	Reason   Reason `json:"reason"`
}
