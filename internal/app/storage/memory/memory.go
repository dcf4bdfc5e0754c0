// Package memory provides a thread-safe in-memory persistence layer
// implementing the storage interfaces. It is intended for tests, prototyping,
// and engine-simulated deployments, and deliberately keeps the implementation
// simple: one lock, so every mutating operation is an indivisible unit.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/domain/access"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/domain/request"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/domain/settlement"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/storage"
)

type itemKey struct {
	requestID uint64
	index     int
}

// Store is the in-memory implementation of every storage interface.
type Store struct {
	mu sync.RWMutex

	nextID       uint64
	requests     map[uint64]request.Request
	ownerIndex   map[string][]uint64
	items        map[itemKey]request.Item
	results      map[uint64]request.Result
	correlations map[string]uint64

	feePool settlement.FeePool
	payouts []settlement.Payout

	owner  string
	roles  map[string]map[access.Role]bool
	paused bool
}

var _ storage.RequestStore = (*Store)(nil)
var _ storage.SettlementStore = (*Store)(nil)
var _ storage.AccessStore = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		nextID:       1,
		requests:     make(map[uint64]request.Request),
		ownerIndex:   make(map[string][]uint64),
		items:        make(map[itemKey]request.Item),
		results:      make(map[uint64]request.Result),
		correlations: make(map[string]uint64),
		roles:        make(map[string]map[access.Role]bool),
	}
}

// RequestStore implementation ---------------------------------------------

func (s *Store) CreateRequest(_ context.Context, req request.Request) (request.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req.ID = s.nextID
	s.nextID++

	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}

	s.requests[req.ID] = req
	s.ownerIndex[req.Owner] = append(s.ownerIndex[req.Owner], req.ID)
	s.feePool.Accumulated += req.Fee

	return req, nil
}

func (s *Store) UpdateRequest(_ context.Context, req request.Request) (request.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.requests[req.ID]
	if !ok {
		return request.Request{}, fmt.Errorf("request %d not found", req.ID)
	}

	// Creation-time fields never change; the multiplier is write-once.
	req.Owner = original.Owner
	req.CreatedAt = original.CreatedAt
	req.Stake = original.Stake
	req.Fee = original.Fee
	if original.Multiplier != 0 {
		req.Multiplier = original.Multiplier
	}

	s.requests[req.ID] = req
	return req, nil
}

func (s *Store) UpdateRequestIf(_ context.Context, req request.Request, expectStatus request.Status, expectRefundEligible bool) (request.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.requests[req.ID]
	if !ok {
		return request.Request{}, fmt.Errorf("request %d not found", req.ID)
	}
	if original.Status != expectStatus || original.RefundEligible != expectRefundEligible {
		return request.Request{}, storage.ErrConflict
	}

	// Creation-time fields never change; the multiplier is write-once.
	req.Owner = original.Owner
	req.CreatedAt = original.CreatedAt
	req.Stake = original.Stake
	req.Fee = original.Fee
	if original.Multiplier != 0 {
		req.Multiplier = original.Multiplier
	}

	s.requests[req.ID] = req
	return req, nil
}

func (s *Store) GetRequest(_ context.Context, id uint64) (request.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[id]
	if !ok {
		return request.Request{}, fmt.Errorf("request %d not found", id)
	}
	return req, nil
}

func (s *Store) ListRequestsByOwner(_ context.Context, owner string) ([]request.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.ownerIndex[owner]
	result := make([]request.Request, 0, len(ids))
	for _, id := range ids {
		if req, ok := s.requests[id]; ok {
			result = append(result, req)
		}
	}
	return result, nil
}

func (s *Store) ListRequestsByStatus(_ context.Context, status request.Status) ([]request.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []request.Request
	for _, req := range s.requests {
		if req.Status == status {
			result = append(result, req)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) PutItem(_ context.Context, item request.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requests[item.RequestID]; !ok {
		return fmt.Errorf("request %d not found", item.RequestID)
	}
	s.items[itemKey{item.RequestID, item.Index}] = item
	return nil
}

func (s *Store) ListItems(_ context.Context, requestID uint64) ([]request.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []request.Item
	for key, item := range s.items {
		if key.requestID == requestID {
			result = append(result, item)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Index < result[j].Index })
	return result, nil
}

func (s *Store) PutResult(_ context.Context, res request.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requests[res.RequestID]; !ok {
		return fmt.Errorf("request %d not found", res.RequestID)
	}
	res.ItemOrder = append([]int(nil), res.ItemOrder...)
	s.results[res.RequestID] = res
	return nil
}

func (s *Store) GetResult(_ context.Context, requestID uint64) (request.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, ok := s.results[requestID]
	if !ok {
		return request.Result{}, fmt.Errorf("result for request %d not found", requestID)
	}
	res.ItemOrder = append([]int(nil), res.ItemOrder...)
	return res, nil
}

func (s *Store) PutCorrelation(_ context.Context, correlationID string, requestID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.correlations[correlationID]; ok {
		return fmt.Errorf("correlation id %s already maps to request %d", correlationID, existing)
	}
	s.correlations[correlationID] = requestID
	return nil
}

func (s *Store) GetCorrelation(_ context.Context, correlationID string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.correlations[correlationID]
	if !ok {
		return 0, fmt.Errorf("correlation id %s not found", correlationID)
	}
	return id, nil
}

// SettlementStore implementation ------------------------------------------

func (s *Store) FeePool(_ context.Context) (settlement.FeePool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.feePool, nil
}

func (s *Store) TakeFees(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	amount := s.feePool.Accumulated
	s.feePool.Accumulated = 0
	s.feePool.TotalWithdrawn += amount
	return amount, nil
}

func (s *Store) RestoreFees(_ context.Context, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("cannot restore negative fee amount %d", amount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.feePool.Accumulated += amount
	s.feePool.TotalWithdrawn -= amount
	return nil
}

func (s *Store) RecordPayout(_ context.Context, p settlement.Payout) (settlement.Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.IssuedAt.IsZero() {
		p.IssuedAt = time.Now().UTC()
	}
	s.payouts = append(s.payouts, p)
	return p, nil
}

func (s *Store) ListPayouts(_ context.Context, requestID uint64) ([]settlement.Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []settlement.Payout
	for _, p := range s.payouts {
		if requestID == 0 || p.RequestID == requestID {
			result = append(result, p)
		}
	}
	return result, nil
}

// AccessStore implementation ----------------------------------------------

func (s *Store) Owner(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.owner, nil
}

func (s *Store) SetOwner(_ context.Context, principal string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owner = principal
	return nil
}

func (s *Store) HasRole(_ context.Context, principal string, role access.Role) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roles[principal][role], nil
}

func (s *Store) SetRole(_ context.Context, principal string, role access.Role, granted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.roles[principal] == nil {
		s.roles[principal] = make(map[access.Role]bool)
	}
	if granted {
		s.roles[principal][role] = true
	} else {
		delete(s.roles[principal], role)
	}
	return nil
}

func (s *Store) ListRoleHolders(_ context.Context, role access.Role) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var holders []string
	for principal, grants := range s.roles {
		if grants[role] {
			holders = append(holders, principal)
		}
	}
	sort.Strings(holders)
	return holders, nil
}

func (s *Store) Paused(_ context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused, nil
}

func (s *Store) SetPaused(_ context.Context, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = paused
	return nil
}
