// Package compute defines the boundary to the homomorphic arithmetic engine.
// The coordinator only ever composes the operations below over opaque
// ciphertext handles; it never inspects ciphertext contents.
package compute

import "context"

// Handle is an opaque reference to an encrypted value. Only the engine and
// the decryption oracle can resolve it.
type Handle string

// BoolHandle references an encrypted boolean produced by Compare.
type BoolHandle string

// Engine performs arithmetic over ciphertext handles.
type Engine interface {
	// Encrypt turns a plaintext scalar into a ciphertext handle.
	Encrypt(ctx context.Context, plaintext int64) (Handle, error)

	Add(ctx context.Context, a, b Handle) (Handle, error)
	Sub(ctx context.Context, a, b Handle) (Handle, error)
	Mul(ctx context.Context, a, b Handle) (Handle, error)

	// Compare evaluates a <= b without revealing either operand.
	Compare(ctx context.Context, a, b Handle) (BoolHandle, error)

	// Select returns whenTrue or whenFalse depending on the encrypted condition.
	Select(ctx context.Context, cond BoolHandle, whenTrue, whenFalse Handle) (Handle, error)

	// Widen re-encrypts the value into a wider integer domain so subsequent
	// multiplications cannot overflow.
	Widen(ctx context.Context, a Handle) (Handle, error)
}
