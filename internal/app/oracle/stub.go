package oracle

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/compute"
)

// Submission records one decryption batch handed to the stub.
type Submission struct {
	CorrelationID string
	Handles       []compute.Handle
	CallbackRef   string
}

// Stub is an in-process oracle for tests and engine-simulated deployments.
// It records submissions and lets the caller decide when (and whether) to
// produce a callback, which is exactly the failure surface the coordinator
// has to survive.
type Stub struct {
	mu          sync.Mutex
	engine      *compute.SimulatedEngine
	submissions map[string]Submission
}

var _ Oracle = (*Stub)(nil)

// NewStub creates a stub oracle. The engine may be nil when the test drives
// cleartexts by hand.
func NewStub(engine *compute.SimulatedEngine) *Stub {
	return &Stub{
		engine:      engine,
		submissions: make(map[string]Submission),
	}
}

func (s *Stub) RequestDecryption(_ context.Context, handles []compute.Handle, callbackRef string) (string, error) {
	if len(handles) == 0 {
		return "", fmt.Errorf("empty decryption batch")
	}
	id := uuid.NewString()
	s.mu.Lock()
	s.submissions[id] = Submission{
		CorrelationID: id,
		Handles:       append([]compute.Handle(nil), handles...),
		CallbackRef:   callbackRef,
	}
	s.mu.Unlock()
	return id, nil
}

// VerifyProof accepts exactly the proof ProofFor would produce for the same
// correlation id and cleartexts.
func (s *Stub) VerifyProof(_ context.Context, correlationID string, cleartexts []int64, proof []byte) bool {
	expected := ProofFor(correlationID, cleartexts)
	if len(proof) != len(expected) {
		return false
	}
	for i := range proof {
		if proof[i] != expected[i] {
			return false
		}
	}
	return true
}

// Submission returns the recorded batch for a correlation id.
func (s *Stub) Submission(correlationID string) (Submission, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[correlationID]
	return sub, ok
}

// Decrypt resolves the submitted handles through the simulated engine,
// producing the cleartexts a real oracle would deliver.
func (s *Stub) Decrypt(correlationID string) ([]int64, error) {
	if s.engine == nil {
		return nil, fmt.Errorf("stub oracle has no engine attached")
	}
	sub, ok := s.Submission(correlationID)
	if !ok {
		return nil, fmt.Errorf("unknown correlation id %s", correlationID)
	}
	out := make([]int64, len(sub.Handles))
	for i, h := range sub.Handles {
		v, err := s.engine.Reveal(h)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Callback builds a verifiable callback payload for a submitted batch.
func (s *Stub) Callback(correlationID string) (CallbackPayload, error) {
	cleartexts, err := s.Decrypt(correlationID)
	if err != nil {
		return CallbackPayload{}, err
	}
	return CallbackPayload{
		CorrelationID: correlationID,
		Cleartexts:    cleartexts,
		Proof:         ProofFor(correlationID, cleartexts),
	}, nil
}

// ProofFor derives the stub's authenticity proof: a digest over the
// correlation id and the cleartexts it attests to.
func ProofFor(correlationID string, cleartexts []int64) []byte {
	hasher := sha256.New()
	hasher.Write([]byte(correlationID))
	buf := make([]byte, 8)
	for _, v := range cleartexts {
		binary.BigEndian.PutUint64(buf, uint64(v))
		hasher.Write(buf)
	}
	return hasher.Sum(nil)
}
