// Package settlement owns the money: refund eligibility, stake refunds, and
// fee withdrawals. Every transfer out of the system is fail-closed — state
// flips before the transfer and is restored if the transfer does not land.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperr "github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/errors"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/domain/access"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/domain/request"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/domain/settlement"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/events"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/metrics"
	accesssvc "github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/services/access"
	lifecyclesvc "github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/services/lifecycle"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/storage"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/pkg/logger"
)

// Transferer moves value to an external account. A nil error means the
// transfer irrevocably landed.
type Transferer interface {
	Transfer(ctx context.Context, to string, amount int64) error
}

// LedgerTransferer settles transfers against the internal payout ledger
// only; the payout record is the transfer. Deployments with a real payment
// rail plug in their own Transferer.
type LedgerTransferer struct {
	log *logger.Logger
}

// NewLedgerTransferer constructs the in-process transferer.
func NewLedgerTransferer(log *logger.Logger) *LedgerTransferer {
	if log == nil {
		log = logger.NewDefault("ledger-transfer")
	}
	return &LedgerTransferer{log: log}
}

func (t *LedgerTransferer) Transfer(_ context.Context, to string, amount int64) error {
	t.log.WithField("to", to).WithField("amount", amount).Info("ledger transfer settled")
	return nil
}

// Service is the settlement ledger.
type Service struct {
	requests storage.RequestStore
	store    storage.SettlementStore
	access   *accesssvc.Service
	transfer Transferer
	events   events.Recorder
	log      *logger.Logger
	cfg      lifecyclesvc.Config

	now func() time.Time
}

// New constructs a settlement service. The timeout policy must match the
// lifecycle coordinator's.
func New(requests storage.RequestStore, store storage.SettlementStore, access *accesssvc.Service, transfer Transferer, recorder events.Recorder, cfg lifecyclesvc.Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("settlement")
	}
	if recorder == nil {
		recorder = events.Discard{}
	}
	if transfer == nil {
		transfer = NewLedgerTransferer(log)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = lifecyclesvc.DefaultConfig().RequestTimeout
	}
	if cfg.ProcessingTimeout <= 0 {
		cfg.ProcessingTimeout = lifecyclesvc.DefaultConfig().ProcessingTimeout
	}
	return &Service{
		requests: requests,
		store:    store,
		access:   access,
		transfer: transfer,
		events:   recorder,
		log:      log,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CheckEligibility answers whether the stake could be refunded right now.
// Pure read; asking never changes anything.
func (s *Service) CheckEligibility(ctx context.Context, requestID uint64) (settlement.Eligibility, error) {
	req, err := s.requests.GetRequest(ctx, requestID)
	if err != nil {
		return settlement.Eligibility{}, apperr.RequestNotFound(requestID)
	}
	return s.eligibilityFor(req, s.now()), nil
}

func (s *Service) eligibilityFor(req request.Request, now time.Time) settlement.Eligibility {
	if !req.RefundEligible {
		return settlement.Eligibility{Reason: settlement.ReasonAlreadyRefunded}
	}
	switch req.Status {
	case request.StatusCompleted:
		return settlement.Eligibility{Reason: settlement.ReasonCompleted}
	case request.StatusFailed:
		return settlement.Eligibility{Eligible: true, Reason: settlement.ReasonDecryptionFailed}
	case request.StatusProcessing:
		if now.Sub(req.ProcessingAt) > s.cfg.ProcessingTimeout {
			return settlement.Eligibility{Eligible: true, Reason: settlement.ReasonProcessingTimeout}
		}
		return settlement.Eligibility{Reason: settlement.ReasonStillProcessing}
	case request.StatusPending:
		if now.Sub(req.CreatedAt) > s.cfg.RequestTimeout {
			return settlement.Eligibility{Eligible: true, Reason: settlement.ReasonRequestTimeout}
		}
		return settlement.Eligibility{Reason: settlement.ReasonStillPending}
	case request.StatusTimedOut:
		// Still unrefunded in TimedOut only via an aborted transfer; the
		// retry stays eligible.
		return settlement.Eligibility{Eligible: true, Reason: settlement.ReasonRequestTimeout}
	default:
		return settlement.Eligibility{Reason: settlement.ReasonAlreadyRefunded}
	}
}

// RequestRefund returns the stake to the owner. Owner-only, once per request
// ever. Timeouts are detected here: an overdue Pending or Processing request
// flips to TimedOut as part of the refund.
func (s *Service) RequestRefund(ctx context.Context, owner string, requestID uint64) (settlement.Payout, error) {
	if err := s.access.EnsureNotPaused(ctx, "request refund"); err != nil {
		return settlement.Payout{}, err
	}

	req, err := s.requests.GetRequest(ctx, requestID)
	if err != nil {
		return settlement.Payout{}, apperr.RequestNotFound(requestID)
	}
	if req.Owner != owner {
		return settlement.Payout{}, apperr.NotRequestOwner(owner, requestID)
	}

	now := s.now()
	elig := s.eligibilityFor(req, now)
	if !elig.Eligible {
		if elig.Reason == settlement.ReasonAlreadyRefunded {
			return settlement.Payout{}, apperr.RefundAlreadyIssued(requestID)
		}
		return settlement.Payout{}, apperr.TimeoutNotReached(requestID, string(elig.Reason))
	}

	prevStatus := req.Status
	timedOut := false
	switch elig.Reason {
	case settlement.ReasonDecryptionFailed:
		req.Status = request.StatusRefunded
	case settlement.ReasonRequestTimeout, settlement.ReasonProcessingTimeout:
		if req.Status != request.StatusTimedOut {
			timedOut = true
		}
		req.Status = request.StatusTimedOut
	}
	req.RefundEligible = false
	// Conditional flip: only one of any set of racing refund calls claims the
	// stake, the rest observe the conflict and fail as already issued.
	if _, err := s.requests.UpdateRequestIf(ctx, req, prevStatus, true); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return settlement.Payout{}, apperr.RefundAlreadyIssued(requestID)
		}
		return settlement.Payout{}, err
	}

	if err := s.transfer.Transfer(ctx, owner, req.Stake); err != nil {
		// Restore so the owner can retry once the rail recovers.
		req.Status = prevStatus
		req.RefundEligible = true
		if _, restoreErr := s.requests.UpdateRequest(ctx, req); restoreErr != nil {
			s.log.WithError(restoreErr).WithField("request_id", requestID).Error("restore after failed refund transfer")
		}
		return settlement.Payout{}, apperr.TransferFailed(err)
	}

	payout, err := s.store.RecordPayout(ctx, settlement.Payout{
		RequestID: requestID,
		Kind:      settlement.PayoutRefund,
		To:        owner,
		Amount:    req.Stake,
		IssuedAt:  now,
	})
	if err != nil {
		return settlement.Payout{}, err
	}

	if timedOut {
		kind := "request"
		if elig.Reason == settlement.ReasonProcessingTimeout {
			kind = "processing"
		}
		metrics.RecordTimeout(kind)
		metrics.RecordTransition(string(request.StatusTimedOut))
		s.events.Record(events.Event{Type: events.TypeTimeoutDetected, RequestID: requestID, Detail: string(elig.Reason)})
	} else {
		metrics.RecordTransition(string(req.Status))
	}
	metrics.RecordRefund(req.Stake)
	s.events.Record(events.Event{Type: events.TypeRefundIssued, RequestID: requestID, Principal: owner, Amount: req.Stake, Detail: string(elig.Reason)})
	s.log.WithField("request_id", requestID).
		WithField("owner", owner).
		WithField("amount", req.Stake).
		WithField("reason", string(elig.Reason)).
		Info("refund issued")
	return payout, nil
}

// FeePool returns the current fee accumulator state.
func (s *Service) FeePool(ctx context.Context) (settlement.FeePool, error) {
	return s.store.FeePool(ctx)
}

// Payouts returns payout history, optionally scoped to one request.
func (s *Service) Payouts(ctx context.Context, requestID uint64) ([]settlement.Payout, error) {
	return s.store.ListPayouts(ctx, requestID)
}

// WithdrawFees empties the fee accumulator to the given address. Admin-only.
func (s *Service) WithdrawFees(ctx context.Context, admin, to string) (settlement.Payout, error) {
	if err := s.access.RequireRole(ctx, admin, access.RoleAdmin); err != nil {
		return settlement.Payout{}, err
	}
	to = strings.TrimSpace(to)
	if to == "" {
		return settlement.Payout{}, apperr.InvalidAddress(to)
	}

	amount, err := s.store.TakeFees(ctx)
	if err != nil {
		return settlement.Payout{}, err
	}
	if amount == 0 {
		return settlement.Payout{}, fmt.Errorf("fee pool is empty")
	}

	if err := s.transfer.Transfer(ctx, to, amount); err != nil {
		if restoreErr := s.store.RestoreFees(ctx, amount); restoreErr != nil {
			s.log.WithError(restoreErr).Error("restore fee pool after failed withdrawal")
		}
		return settlement.Payout{}, apperr.TransferFailed(err)
	}

	payout, err := s.store.RecordPayout(ctx, settlement.Payout{
		Kind:     settlement.PayoutFeeWithdrawal,
		To:       to,
		Amount:   amount,
		IssuedAt: s.now(),
	})
	if err != nil {
		return settlement.Payout{}, err
	}

	metrics.RecordFeeWithdrawal(amount)
	s.events.Record(events.Event{Type: events.TypeFeesWithdrawn, Principal: admin, Amount: amount, Detail: "to " + to})
	s.log.WithField("admin", admin).WithField("to", to).WithField("amount", amount).Info("fees withdrawn")
	return payout, nil
}

// Drain empties the fee accumulator and sweeps every unrefunded terminal
// stake to the recovery address. Called by the admin surface; the pause
// precondition is enforced there.
func (s *Service) Drain(ctx context.Context, to string) (int64, error) {
	fees, err := s.store.TakeFees(ctx)
	if err != nil {
		return 0, err
	}

	var stakes int64
	var swept []request.Request
	for _, status := range []request.Status{request.StatusFailed, request.StatusTimedOut} {
		reqs, err := s.requests.ListRequestsByStatus(ctx, status)
		if err != nil {
			s.restoreSweep(ctx, fees, swept)
			return 0, err
		}
		for _, req := range reqs {
			if !req.RefundEligible {
				continue
			}
			req.RefundEligible = false
			if _, err := s.requests.UpdateRequestIf(ctx, req, status, true); err != nil {
				if errors.Is(err, storage.ErrConflict) {
					// A concurrent refund claimed this stake; it is no
					// longer ours to sweep.
					continue
				}
				// Abort cleanly: hand back the fees and every stake already
				// claimed so nothing is stranded half-swept.
				s.restoreSweep(ctx, fees, swept)
				return 0, err
			}
			stakes += req.Stake
			swept = append(swept, req)
		}
	}

	total := fees + stakes
	if total == 0 {
		return 0, nil
	}

	if err := s.transfer.Transfer(ctx, to, total); err != nil {
		s.restoreSweep(ctx, fees, swept)
		return 0, apperr.TransferFailed(err)
	}

	if _, err := s.store.RecordPayout(ctx, settlement.Payout{
		Kind:     settlement.PayoutEmergency,
		To:       to,
		Amount:   total,
		IssuedAt: s.now(),
	}); err != nil {
		return 0, err
	}
	return total, nil
}

// restoreSweep undoes a drain that could not finish: fees go back to the
// accumulator and every stake already claimed becomes refundable again.
func (s *Service) restoreSweep(ctx context.Context, fees int64, swept []request.Request) {
	if restoreErr := s.store.RestoreFees(ctx, fees); restoreErr != nil {
		s.log.WithError(restoreErr).Error("restore fee pool after failed drain")
	}
	for _, req := range swept {
		req.RefundEligible = true
		if _, restoreErr := s.requests.UpdateRequest(ctx, req); restoreErr != nil {
			s.log.WithError(restoreErr).WithField("request_id", req.ID).Error("restore stake after failed drain")
		}
	}
}
