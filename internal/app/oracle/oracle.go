// Package oracle defines the boundary to the asynchronous decryption oracle.
// The oracle accepts a batch of ciphertext handles and, at an arbitrary later
// time, delivers cleartexts plus an authenticity proof through a callback.
// The coordinator must treat that callback as an unordered message: it can
// arrive late, duplicated, or never.
package oracle

import (
	"context"

	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/compute"
)

// Oracle is the consumed decryption service.
type Oracle interface {
	// RequestDecryption submits a batch of handles and returns the
	// correlation id the eventual callback will carry. Fire-and-forget: the
	// wait for decryption happens entirely outside the caller's control.
	RequestDecryption(ctx context.Context, handles []compute.Handle, callbackRef string) (string, error)

	// VerifyProof checks the authenticity proof delivered with a callback.
	VerifyProof(ctx context.Context, correlationID string, cleartexts []int64, proof []byte) bool
}

// CallbackPayload is what the oracle delivers out-of-band once decryption
// finishes.
type CallbackPayload struct {
	CorrelationID string  `json:"correlation_id"`
	Cleartexts    []int64 `json:"cleartexts"`
	Proof         []byte  `json:"proof"`
}
