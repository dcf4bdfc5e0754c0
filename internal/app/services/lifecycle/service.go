// Package lifecycle drives requests through the processing state machine:
// handing work to the compute engine, submitting aggregates to the decryption
// oracle, and absorbing the oracle's asynchronous callbacks.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperr "github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/errors"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/compute"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/domain/access"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/domain/request"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/events"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/metrics"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/obfuscation"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/oracle"
	accesssvc "github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/services/access"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/storage"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/pkg/logger"
)

// Config holds the timeout policy.
type Config struct {
	// RequestTimeout bounds how long a request may sit Pending before the
	// owner can reclaim the stake.
	RequestTimeout time.Duration
	// ProcessingTimeout bounds how long a request may sit Processing.
	ProcessingTimeout time.Duration
	// CallbackRef is handed to the oracle so it knows where to deliver.
	CallbackRef string
}

// DefaultConfig returns the standard timeout policy.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:    24 * time.Hour,
		ProcessingTimeout: time.Hour,
	}
}

// Service coordinates the processing lifecycle.
type Service struct {
	store  storage.RequestStore
	access *accesssvc.Service
	engine compute.Engine
	oracle oracle.Oracle
	events events.Recorder
	log    *logger.Logger
	cfg    Config

	now func() time.Time
}

// New constructs a lifecycle service.
func New(store storage.RequestStore, access *accesssvc.Service, engine compute.Engine, orc oracle.Oracle, recorder events.Recorder, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("lifecycle")
	}
	if recorder == nil {
		recorder = events.Discard{}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = DefaultConfig().ProcessingTimeout
	}
	return &Service{
		store:  store,
		access: access,
		engine: engine,
		oracle: orc,
		events: recorder,
		log:    log,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Config returns the active timeout policy.
func (s *Service) Config() Config {
	return s.cfg
}

// currentStatus re-reads a request's status for conflict error messages.
func (s *Service) currentStatus(ctx context.Context, requestID uint64) string {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return "unknown"
	}
	return string(req.Status)
}

// Process moves a Pending request into Processing: aggregates the encrypted
// route quantities, obfuscates the distance with the request's multiplier,
// and submits both aggregates to the decryption oracle. Operator-gated.
//
// This is a homomorphic accumulation over the declared stops, not a route
// solver; ordering optimization happens inside the compute engine's domain.
func (s *Service) Process(ctx context.Context, operator string, requestID uint64) (request.Request, error) {
	if err := s.access.EnsureNotPaused(ctx, "process request"); err != nil {
		return request.Request{}, err
	}
	if err := s.access.RequireRole(ctx, operator, access.RoleOperator); err != nil {
		return request.Request{}, err
	}

	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return request.Request{}, apperr.RequestNotFound(requestID)
	}
	if req.Status != request.StatusPending {
		return request.Request{}, apperr.AlreadyProcessed(requestID)
	}

	items, err := s.store.ListItems(ctx, requestID)
	if err != nil {
		return request.Request{}, err
	}
	active := items[:0:0]
	for _, item := range items {
		if item.Active {
			active = append(active, item)
		}
	}
	if len(active) == 0 {
		return request.Request{}, fmt.Errorf("request %d has no active items to process", requestID)
	}

	distance, cost, order, err := s.aggregate(ctx, req, active)
	if err != nil {
		return request.Request{}, fmt.Errorf("aggregate request %d: %w", requestID, err)
	}

	correlationID, err := s.oracle.RequestDecryption(ctx, []compute.Handle{distance, cost}, s.cfg.CallbackRef)
	if err != nil {
		return request.Request{}, fmt.Errorf("submit decryption: %w", err)
	}
	if err := s.store.PutCorrelation(ctx, correlationID, requestID); err != nil {
		return request.Request{}, err
	}

	if err := s.store.PutResult(ctx, request.Result{
		RequestID: requestID,
		Distance:  distance,
		Cost:      cost,
		ItemOrder: order,
	}); err != nil {
		return request.Request{}, err
	}

	req.Status = request.StatusProcessing
	req.ProcessingAt = s.now()
	req.CorrelationID = correlationID
	// Conditional transition: a concurrent Process or refund that left
	// Pending first wins, this call loses its claim.
	req, err = s.store.UpdateRequestIf(ctx, req, request.StatusPending, req.RefundEligible)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return request.Request{}, apperr.AlreadyProcessed(requestID)
		}
		return request.Request{}, err
	}

	metrics.RecordTransition(string(request.StatusProcessing))
	s.events.Record(events.Event{Type: events.TypeProcessingStarted, RequestID: requestID, Principal: operator, CorrelationID: correlationID})
	s.log.WithField("request_id", requestID).
		WithField("correlation_id", correlationID).
		WithField("items", len(active)).
		Info("processing started")
	return req, nil
}

// aggregate folds the active items into two ciphertext handles: the
// multiplier-obfuscated distance and the unmasked total cost.
func (s *Service) aggregate(ctx context.Context, req request.Request, items []request.Item) (distance, cost compute.Handle, order []int, err error) {
	var totalOffset int64
	for i, item := range items {
		contribution, addErr := s.engine.Add(ctx, item.X, item.Y)
		if addErr != nil {
			return "", "", nil, addErr
		}
		if i == 0 {
			distance = contribution
			cost = item.Price
		} else {
			if distance, err = s.engine.Add(ctx, distance, contribution); err != nil {
				return "", "", nil, err
			}
			if cost, err = s.engine.Add(ctx, cost, item.Price); err != nil {
				return "", "", nil, err
			}
		}
		totalOffset += obfuscation.Offset(obfuscation.MaskSeed{
			RequestID: req.ID,
			ItemIndex: item.Index,
			Salt:      req.Multiplier,
		})
		order = append(order, item.Index)
	}

	// Remove the aggregate price mask so the oracle reveals the true total.
	encOffset, err := s.engine.Encrypt(ctx, totalOffset)
	if err != nil {
		return "", "", nil, err
	}
	if cost, err = s.engine.Sub(ctx, cost, encOffset); err != nil {
		return "", "", nil, err
	}

	// Clamp the distance to the declared maximum before obfuscating.
	if req.MaxDistance != "" {
		within, cmpErr := s.engine.Compare(ctx, distance, req.MaxDistance)
		if cmpErr != nil {
			return "", "", nil, cmpErr
		}
		if distance, err = s.engine.Select(ctx, within, distance, req.MaxDistance); err != nil {
			return "", "", nil, err
		}
	}

	wide, err := s.engine.Widen(ctx, distance)
	if err != nil {
		return "", "", nil, err
	}
	encMultiplier, err := s.engine.Encrypt(ctx, req.Multiplier)
	if err != nil {
		return "", "", nil, err
	}
	if distance, err = s.engine.Mul(ctx, wide, encMultiplier); err != nil {
		return "", "", nil, err
	}
	return distance, cost, order, nil
}

// HandleCallback absorbs one oracle delivery. An invalid proof leaves the
// request untouched in Processing; the timeout path is the recovery route.
// Duplicate or stale callbacks are rejected against the current status.
func (s *Service) HandleCallback(ctx context.Context, payload oracle.CallbackPayload) error {
	correlationID := strings.TrimSpace(payload.CorrelationID)
	if correlationID == "" {
		metrics.RecordCallback("unknown_correlation")
		return fmt.Errorf("callback without correlation id")
	}

	if !s.oracle.VerifyProof(ctx, correlationID, payload.Cleartexts, payload.Proof) {
		metrics.RecordCallback("rejected_proof")
		s.log.WithField("correlation_id", correlationID).Warn("callback proof rejected; request left in processing")
		return nil
	}

	requestID, err := s.store.GetCorrelation(ctx, correlationID)
	if err != nil {
		metrics.RecordCallback("unknown_correlation")
		return fmt.Errorf("unknown correlation id %s", correlationID)
	}

	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return apperr.RequestNotFound(requestID)
	}
	if req.Status != request.StatusProcessing {
		metrics.RecordCallback("stale")
		return apperr.InvalidStatus(requestID, string(req.Status))
	}

	if len(payload.Cleartexts) != 2 {
		return fmt.Errorf("callback for request %d carried %d cleartexts, want 2", requestID, len(payload.Cleartexts))
	}

	res, err := s.store.GetResult(ctx, requestID)
	if err != nil {
		return fmt.Errorf("no pending result for request %d", requestID)
	}
	res.Finalized = true
	res.RevealedDistance = payload.Cleartexts[0] / req.Multiplier
	res.RevealedCost = payload.Cleartexts[1]
	res.FinalizedAt = s.now()
	if err := s.store.PutResult(ctx, res); err != nil {
		return err
	}

	req.Status = request.StatusCompleted
	if _, err := s.store.UpdateRequestIf(ctx, req, request.StatusProcessing, req.RefundEligible); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			metrics.RecordCallback("stale")
			return apperr.InvalidStatus(requestID, s.currentStatus(ctx, requestID))
		}
		return err
	}

	metrics.RecordCallback("finalized")
	metrics.RecordTransition(string(request.StatusCompleted))
	s.events.Record(events.Event{Type: events.TypeRequestCompleted, RequestID: requestID, CorrelationID: correlationID})
	s.log.WithField("request_id", requestID).
		WithField("distance", res.RevealedDistance).
		Info("request completed")
	return nil
}

// MarkFailed records a processing failure reported by an operator: the only
// way to short-circuit the processing timeout.
func (s *Service) MarkFailed(ctx context.Context, operator string, requestID uint64, reason string) error {
	if err := s.access.RequireRole(ctx, operator, access.RoleOperator); err != nil {
		return err
	}

	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return apperr.RequestNotFound(requestID)
	}
	if req.Status != request.StatusProcessing {
		return apperr.InvalidStatus(requestID, string(req.Status))
	}

	req.Status = request.StatusFailed
	req.FailReason = strings.TrimSpace(reason)
	if _, err := s.store.UpdateRequestIf(ctx, req, request.StatusProcessing, req.RefundEligible); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return apperr.InvalidStatus(requestID, s.currentStatus(ctx, requestID))
		}
		return err
	}

	metrics.RecordTransition(string(request.StatusFailed))
	s.events.Record(events.Event{Type: events.TypeRequestFailed, RequestID: requestID, Principal: operator, Detail: req.FailReason})
	s.log.WithField("request_id", requestID).WithField("reason", req.FailReason).Warn("request failed")
	return nil
}
