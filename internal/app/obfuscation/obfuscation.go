// Package obfuscation derives the deterministic masking values that protect
// intermediate results before they reach the external compute and decryption
// collaborators: a per-request multiplier that hides magnitudes under
// division-like operations, and bounded additive noise for per-item prices.
//
// Derivation is a SHA-256 digest over the canonical big-endian encoding of
// the seed, so equal seeds always produce equal values while distinct seeds
// stay unpredictable. Nothing here is invertible; unmasking is the compute
// engine's and oracle's concern.
package obfuscation

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

const (
	// Multiplier band. The upper bound keeps magnitude growth under
	// multiplication within fixed-width arithmetic.
	multiplierMin  = 1000
	multiplierSpan = 8999 // [1000, 9999)

	// Additive noise bound for price masking.
	maskSpan = 100 // [0, 100)
)

// MultiplierSeed feeds the per-request multiplier. Entropy is a source of
// unpredictability available at creation time only; it is not retained.
type MultiplierSeed struct {
	RequestID uint64
	Owner     string
	CreatedAt time.Time
	Entropy   []byte
}

// MaskSeed feeds the per-item additive noise.
type MaskSeed struct {
	RequestID uint64
	ItemIndex int
	Salt      int64
}

// NewEntropy draws 32 bytes of unpredictability for a multiplier seed.
func NewEntropy() ([]byte, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("read entropy: %w", err)
	}
	return buf, nil
}

// GenerateMultiplier returns a deterministic multiplier in [1000, 9999).
func GenerateMultiplier(seed MultiplierSeed) int64 {
	hasher := sha256.New()

	idBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(idBytes, seed.RequestID)
	hasher.Write(idBytes)

	hasher.Write([]byte(seed.Owner))

	tsBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(tsBytes, uint64(seed.CreatedAt.UnixNano()))
	hasher.Write(tsBytes)

	hasher.Write(seed.Entropy)

	digest := hasher.Sum(nil)
	return multiplierMin + int64(binary.BigEndian.Uint64(digest[:8])%multiplierSpan)
}

// Offset returns the deterministic additive noise in [0, 100) for a mask
// seed. Same seed, same offset; different seeds, unpredictable offsets.
func Offset(seed MaskSeed) int64 {
	hasher := sha256.New()

	idBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(idBytes, seed.RequestID)
	hasher.Write(idBytes)

	idxBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(idxBytes, uint64(seed.ItemIndex))
	hasher.Write(idxBytes)

	saltBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(saltBytes, uint64(seed.Salt))
	hasher.Write(saltBytes)

	digest := hasher.Sum(nil)
	return int64(binary.BigEndian.Uint64(digest[:8]) % maskSpan)
}

// MaskValue adds the seed's deterministic offset to value. The offset bound
// keeps downstream fixed-width arithmetic clear of overflow.
func MaskValue(value int64, seed MaskSeed) int64 {
	return value + Offset(seed)
}
