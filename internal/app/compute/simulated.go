package compute

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// SimulatedEngine is an in-process stand-in for the external homomorphic
// engine. It keeps plaintexts behind opaque handles so the rest of the
// application exercises the exact same call surface it would against a real
// engine. Used by tests and by deployments that run without the external
// collaborator.
type SimulatedEngine struct {
	mu     sync.RWMutex
	values map[Handle]int64
	bools  map[BoolHandle]bool
}

var _ Engine = (*SimulatedEngine)(nil)

// NewSimulatedEngine creates an empty simulated engine.
func NewSimulatedEngine() *SimulatedEngine {
	return &SimulatedEngine{
		values: make(map[Handle]int64),
		bools:  make(map[BoolHandle]bool),
	}
}

func (e *SimulatedEngine) Encrypt(_ context.Context, plaintext int64) (Handle, error) {
	h := Handle(uuid.NewString())
	e.mu.Lock()
	e.values[h] = plaintext
	e.mu.Unlock()
	return h, nil
}

func (e *SimulatedEngine) resolve(h Handle) (int64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.values[h]
	if !ok {
		return 0, fmt.Errorf("unknown ciphertext handle %s", h)
	}
	return v, nil
}

func (e *SimulatedEngine) binary(a, b Handle, op func(x, y int64) int64) (Handle, error) {
	x, err := e.resolve(a)
	if err != nil {
		return "", err
	}
	y, err := e.resolve(b)
	if err != nil {
		return "", err
	}
	h := Handle(uuid.NewString())
	e.mu.Lock()
	e.values[h] = op(x, y)
	e.mu.Unlock()
	return h, nil
}

func (e *SimulatedEngine) Add(_ context.Context, a, b Handle) (Handle, error) {
	return e.binary(a, b, func(x, y int64) int64 { return x + y })
}

func (e *SimulatedEngine) Sub(_ context.Context, a, b Handle) (Handle, error) {
	return e.binary(a, b, func(x, y int64) int64 { return x - y })
}

func (e *SimulatedEngine) Mul(_ context.Context, a, b Handle) (Handle, error) {
	return e.binary(a, b, func(x, y int64) int64 { return x * y })
}

func (e *SimulatedEngine) Compare(_ context.Context, a, b Handle) (BoolHandle, error) {
	x, err := e.resolve(a)
	if err != nil {
		return "", err
	}
	y, err := e.resolve(b)
	if err != nil {
		return "", err
	}
	h := BoolHandle(uuid.NewString())
	e.mu.Lock()
	e.bools[h] = x <= y
	e.mu.Unlock()
	return h, nil
}

func (e *SimulatedEngine) Select(_ context.Context, cond BoolHandle, whenTrue, whenFalse Handle) (Handle, error) {
	e.mu.RLock()
	v, ok := e.bools[cond]
	e.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown boolean handle %s", cond)
	}
	if v {
		return whenTrue, nil
	}
	return whenFalse, nil
}

// Widen is a no-op for the simulated engine; int64 is already the widest
// domain it models.
func (e *SimulatedEngine) Widen(_ context.Context, a Handle) (Handle, error) {
	if _, err := e.resolve(a); err != nil {
		return "", err
	}
	return a, nil
}

// Reveal resolves a handle to its plaintext. Only the simulated engine can do
// this; it is what the stub decryption oracle uses to produce cleartexts.
func (e *SimulatedEngine) Reveal(h Handle) (int64, error) {
	return e.resolve(h)
}
