// Package requests manages the intake side of the coordinator: request
// creation with stake/fee split, confidential item registration, and reads.
package requests

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperr "github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/errors"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/compute"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/domain/request"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/events"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/metrics"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/obfuscation"
	accesssvc "github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/services/access"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/storage"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/pkg/logger"
)

// Config holds the economic parameters fixed at deployment.
type Config struct {
	// FeePercent of the deposit retained as platform fee.
	FeePercent int64
	// MinimumStake is the smallest accepted deposit.
	MinimumStake int64
}

// DefaultConfig returns the standard economic parameters.
func DefaultConfig() Config {
	return Config{FeePercent: 2, MinimumStake: 100}
}

// Service is the request ledger.
type Service struct {
	store  storage.RequestStore
	access *accesssvc.Service
	engine compute.Engine
	events events.Recorder
	log    *logger.Logger
	cfg    Config

	now func() time.Time
}

// New constructs a request service.
func New(store storage.RequestStore, access *accesssvc.Service, engine compute.Engine, recorder events.Recorder, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("requests")
	}
	if recorder == nil {
		recorder = events.Discard{}
	}
	if cfg.FeePercent <= 0 {
		cfg.FeePercent = DefaultConfig().FeePercent
	}
	if cfg.MinimumStake <= 0 {
		cfg.MinimumStake = DefaultConfig().MinimumStake
	}
	return &Service{
		store:  store,
		access: access,
		engine: engine,
		events: recorder,
		log:    log,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create opens a new route-optimization request. The deposit is split into
// fee and stake once, at creation, and the split never changes afterwards.
func (s *Service) Create(ctx context.Context, owner string, itemCount int, encMaxDistance, encCapacity compute.Handle, deposit int64) (request.Request, error) {
	if err := s.access.EnsureNotPaused(ctx, "create request"); err != nil {
		return request.Request{}, err
	}

	owner = strings.TrimSpace(owner)
	if owner == "" {
		return request.Request{}, apperr.InvalidAddress(owner)
	}
	if itemCount < 1 || itemCount > request.MaxItemCount {
		return request.Request{}, apperr.InvalidItemCount(itemCount)
	}
	if deposit < s.cfg.MinimumStake {
		return request.Request{}, apperr.InsufficientStake(deposit, s.cfg.MinimumStake)
	}

	fee := deposit * s.cfg.FeePercent / 100
	stake := deposit - fee
	createdAt := s.now()

	created, err := s.store.CreateRequest(ctx, request.Request{
		Owner:          owner,
		ItemCount:      itemCount,
		MaxDistance:    encMaxDistance,
		CapacityLimit:  encCapacity,
		Status:         request.StatusPending,
		Stake:          stake,
		Fee:            fee,
		RefundEligible: true,
		CreatedAt:      createdAt,
	})
	if err != nil {
		return request.Request{}, err
	}

	// The multiplier seed includes the assigned id, so derivation happens
	// after creation; the store treats the field as write-once.
	entropy, err := obfuscation.NewEntropy()
	if err != nil {
		return request.Request{}, err
	}
	created.Multiplier = obfuscation.GenerateMultiplier(obfuscation.MultiplierSeed{
		RequestID: created.ID,
		Owner:     owner,
		CreatedAt: createdAt,
		Entropy:   entropy,
	})
	created, err = s.store.UpdateRequest(ctx, created)
	if err != nil {
		return request.Request{}, err
	}

	metrics.RecordTransition(string(request.StatusPending))
	s.events.Record(events.Event{Type: events.TypeRequestCreated, RequestID: created.ID, Principal: owner, Amount: deposit})
	s.log.WithField("request_id", created.ID).
		WithField("owner", owner).
		WithField("item_count", itemCount).
		WithField("stake", stake).
		WithField("fee", fee).
		Info("request created")
	return created, nil
}

// AddItem registers one encrypted delivery stop. Owner-only, Pending-only.
// Re-adding the same index while Pending replaces the item.
func (s *Service) AddItem(ctx context.Context, owner string, requestID uint64, index int, encX, encY, encWeight, encPrice compute.Handle) error {
	if err := s.access.EnsureNotPaused(ctx, "add item"); err != nil {
		return err
	}

	req, err := s.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if req.Owner != owner {
		return apperr.NotRequestOwner(owner, requestID)
	}
	if req.Status != request.StatusPending {
		return apperr.InvalidStatus(requestID, string(req.Status))
	}
	if index < 0 || index >= req.ItemCount {
		return apperr.InvalidItemIndex(index, req.ItemCount-1)
	}

	// Mask the price homomorphically before storage so the raw ciphertext
	// never appears in the ledger.
	offset := obfuscation.Offset(obfuscation.MaskSeed{
		RequestID: requestID,
		ItemIndex: index,
		Salt:      req.Multiplier,
	})
	encOffset, err := s.engine.Encrypt(ctx, offset)
	if err != nil {
		return fmt.Errorf("encrypt mask offset: %w", err)
	}
	maskedPrice, err := s.engine.Add(ctx, encPrice, encOffset)
	if err != nil {
		return fmt.Errorf("mask price: %w", err)
	}

	if err := s.store.PutItem(ctx, request.Item{
		RequestID: requestID,
		Index:     index,
		X:         encX,
		Y:         encY,
		Weight:    encWeight,
		Price:     maskedPrice,
		Active:    true,
	}); err != nil {
		return err
	}

	s.events.Record(events.Event{Type: events.TypeItemAdded, RequestID: requestID, Principal: owner, Detail: fmt.Sprintf("index %d", index)})
	return nil
}

// Get returns one request, mapping missing records to RequestNotFound.
func (s *Service) Get(ctx context.Context, requestID uint64) (request.Request, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return request.Request{}, apperr.RequestNotFound(requestID)
	}
	return req, nil
}

// ListByOwner returns every request the owner ever created.
func (s *Service) ListByOwner(ctx context.Context, owner string) ([]request.Request, error) {
	return s.store.ListRequestsByOwner(ctx, owner)
}

// Items returns the declared stops of a request.
func (s *Service) Items(ctx context.Context, requestID uint64) ([]request.Item, error) {
	if _, err := s.Get(ctx, requestID); err != nil {
		return nil, err
	}
	return s.store.ListItems(ctx, requestID)
}

// Result returns the outcome record. The revealed fields carry meaning only
// once the record is finalized.
func (s *Service) Result(ctx context.Context, requestID uint64) (request.Result, error) {
	if _, err := s.Get(ctx, requestID); err != nil {
		return request.Result{}, err
	}
	res, err := s.store.GetResult(ctx, requestID)
	if err != nil {
		return request.Result{}, fmt.Errorf("no result for request %d", requestID)
	}
	return res, nil
}
