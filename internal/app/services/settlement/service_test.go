package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	apperr "github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/errors"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/compute"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/domain/request"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/domain/settlement"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/events"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/oracle"
	accesssvc "github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/services/access"
	lifecyclesvc "github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/services/lifecycle"
	requestssvc "github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/services/requests"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/storage/memory"
)

type failingTransferer struct {
	calls int
}

func (f *failingTransferer) Transfer(context.Context, string, int64) error {
	f.calls++
	return errors.New("rail unavailable")
}

type countingTransferer struct {
	mu    sync.Mutex
	calls int
	total int64
}

func (c *countingTransferer) Transfer(_ context.Context, _ string, amount int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.total += amount
	return nil
}

// rendezvousStore holds a fixed number of readers at GetRequest until all of
// them have arrived, so concurrent callers act on the same snapshot.
type rendezvousStore struct {
	*memory.Store

	mu      sync.Mutex
	pending int
	gate    chan struct{}
}

func (r *rendezvousStore) holdNextReads(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = n
	r.gate = make(chan struct{})
}

func (r *rendezvousStore) GetRequest(ctx context.Context, id uint64) (request.Request, error) {
	req, err := r.Store.GetRequest(ctx, id)
	r.mu.Lock()
	if r.pending == 0 {
		r.mu.Unlock()
		return req, err
	}
	r.pending--
	gate := r.gate
	if r.pending == 0 {
		close(gate)
	}
	r.mu.Unlock()
	<-gate
	return req, err
}

// flakyUpdateStore lets a fixed number of conditional updates through and
// fails the rest.
type flakyUpdateStore struct {
	*memory.Store
	allow int
}

func (f *flakyUpdateStore) UpdateRequestIf(ctx context.Context, req request.Request, expectStatus request.Status, expectRefundEligible bool) (request.Request, error) {
	if f.allow <= 0 {
		return request.Request{}, errors.New("storage offline")
	}
	f.allow--
	return f.Store.UpdateRequestIf(ctx, req, expectStatus, expectRefundEligible)
}

type harness struct {
	store     *memory.Store
	access    *accesssvc.Service
	engine    *compute.SimulatedEngine
	stub      *oracle.Stub
	events    *events.Log
	requests  *requestssvc.Service
	lifecycle *lifecyclesvc.Service
	svc       *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := memory.New()
	eventLog := events.NewLog(200)
	acc := accesssvc.New(store, eventLog, nil)
	require.NoError(t, acc.Bootstrap(context.Background(), "owner-1"))

	engine := compute.NewSimulatedEngine()
	stub := oracle.NewStub(engine)
	reqSvc := requestssvc.New(store, acc, engine, eventLog, requestssvc.Config{FeePercent: 2, MinimumStake: 50}, nil)
	lcSvc := lifecyclesvc.New(store, acc, engine, stub, eventLog, lifecyclesvc.DefaultConfig(), nil)
	svc := New(store, store, acc, nil, eventLog, lifecyclesvc.DefaultConfig(), nil)
	return &harness{
		store:     store,
		access:    acc,
		engine:    engine,
		stub:      stub,
		events:    eventLog,
		requests:  reqSvc,
		lifecycle: lcSvc,
		svc:       svc,
	}
}

// createScenarioRequest builds the reference request used across these
// tests: 5 stops, deposit 50, fee percent 2 so fee = 1 and stake = 49.
func (h *harness) createScenarioRequest(t *testing.T) request.Request {
	t.Helper()
	ctx := context.Background()

	req, err := h.requests.Create(ctx, "alice", 5, "", "", 50)
	require.NoError(t, err)
	require.EqualValues(t, 1, req.Fee)
	require.EqualValues(t, 49, req.Stake)

	for i := 0; i < 5; i++ {
		x, _ := h.engine.Encrypt(ctx, int64(i))
		y, _ := h.engine.Encrypt(ctx, int64(i*2))
		w, _ := h.engine.Encrypt(ctx, 1)
		p, _ := h.engine.Encrypt(ctx, 10)
		require.NoError(t, h.requests.AddItem(ctx, "alice", req.ID, i, x, y, w, p))
	}
	return req
}

func (h *harness) advance(d time.Duration) {
	base := time.Now().UTC()
	h.svc.now = func() time.Time { return base.Add(d) }
}

func TestRefundImmediatelyFailsTimeoutNotReached(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.createScenarioRequest(t)

	elig, err := h.svc.CheckEligibility(ctx, req.ID)
	require.NoError(t, err)
	require.False(t, elig.Eligible)
	require.Equal(t, settlement.ReasonStillPending, elig.Reason)

	_, err = h.svc.RequestRefund(ctx, "alice", req.ID)
	require.Equal(t, apperr.CodeTimeoutNotReached, apperr.CodeOf(err))
}

func TestRefundAfterRequestTimeout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.createScenarioRequest(t)

	h.advance(24*time.Hour + time.Second)

	elig, err := h.svc.CheckEligibility(ctx, req.ID)
	require.NoError(t, err)
	require.True(t, elig.Eligible)
	require.Equal(t, settlement.ReasonRequestTimeout, elig.Reason)

	payout, err := h.svc.RequestRefund(ctx, "alice", req.ID)
	require.NoError(t, err)
	require.EqualValues(t, 49, payout.Amount)
	require.Equal(t, settlement.PayoutRefund, payout.Kind)

	final, err := h.store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, request.StatusTimedOut, final.Status)
	require.False(t, final.RefundEligible)

	require.Len(t, h.events.RecentByType(events.TypeTimeoutDetected, 10), 1)
	require.Len(t, h.events.RecentByType(events.TypeRefundIssued, 10), 1)

	// Exactly one refund per request ever.
	_, err = h.svc.RequestRefund(ctx, "alice", req.ID)
	require.Equal(t, apperr.CodeRefundAlreadyIssued, apperr.CodeOf(err))
}

func TestRefundAfterMarkFailed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.createScenarioRequest(t)

	_, err := h.lifecycle.Process(ctx, "owner-1", req.ID)
	require.NoError(t, err)
	require.NoError(t, h.lifecycle.MarkFailed(ctx, "owner-1", req.ID, "engine rejected batch"))

	// No wait required after an explicit failure.
	payout, err := h.svc.RequestRefund(ctx, "alice", req.ID)
	require.NoError(t, err)
	require.EqualValues(t, 49, payout.Amount)

	final, err := h.store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, request.StatusRefunded, final.Status)
	require.False(t, final.RefundEligible)
}

func TestRefundAfterProcessingTimeout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.createScenarioRequest(t)

	_, err := h.lifecycle.Process(ctx, "owner-1", req.ID)
	require.NoError(t, err)

	// Within the processing window: not yet.
	_, err = h.svc.RequestRefund(ctx, "alice", req.ID)
	require.Equal(t, apperr.CodeTimeoutNotReached, apperr.CodeOf(err))

	h.advance(time.Hour + time.Second)

	payout, err := h.svc.RequestRefund(ctx, "alice", req.ID)
	require.NoError(t, err)
	require.EqualValues(t, 49, payout.Amount)

	final, err := h.store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, request.StatusTimedOut, final.Status)
	require.Len(t, h.events.RecentByType(events.TypeTimeoutDetected, 10), 1)
}

func TestRefundGuards(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.createScenarioRequest(t)

	_, err := h.svc.RequestRefund(ctx, "mallory", req.ID)
	require.Equal(t, apperr.CodeNotRequestOwner, apperr.CodeOf(err))

	_, err = h.svc.RequestRefund(ctx, "alice", 999)
	require.Equal(t, apperr.CodeRequestNotFound, apperr.CodeOf(err))

	require.NoError(t, h.access.Pause(ctx, "owner-1"))
	_, err = h.svc.RequestRefund(ctx, "alice", req.ID)
	require.Equal(t, apperr.CodeServicePaused, apperr.CodeOf(err))
}

func TestCompletedRequestNeverRefunds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.createScenarioRequest(t)

	processed, err := h.lifecycle.Process(ctx, "owner-1", req.ID)
	require.NoError(t, err)
	payload, err := h.stub.Callback(processed.CorrelationID)
	require.NoError(t, err)
	require.NoError(t, h.lifecycle.HandleCallback(ctx, payload))

	elig, err := h.svc.CheckEligibility(ctx, req.ID)
	require.NoError(t, err)
	require.False(t, elig.Eligible)
	require.Equal(t, settlement.ReasonCompleted, elig.Reason)

	// Even long after every timeout has elapsed.
	h.advance(48 * time.Hour)
	_, err = h.svc.RequestRefund(ctx, "alice", req.ID)
	require.Equal(t, apperr.CodeTimeoutNotReached, apperr.CodeOf(err))
}

func TestFailedTransferRestoresStateForRetry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := h.createScenarioRequest(t)

	h.advance(25 * time.Hour)

	failing := &failingTransferer{}
	h.svc.transfer = failing

	_, err := h.svc.RequestRefund(ctx, "alice", req.ID)
	require.Equal(t, apperr.CodeTransferFailed, apperr.CodeOf(err))
	require.Equal(t, 1, failing.calls)

	// Whole operation aborted: still refundable, no payout recorded.
	mid, err := h.store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	require.True(t, mid.RefundEligible)
	payouts, err := h.svc.Payouts(ctx, req.ID)
	require.NoError(t, err)
	require.Empty(t, payouts)

	// The rail recovers; the retry lands.
	h.svc.transfer = NewLedgerTransferer(nil)
	payout, err := h.svc.RequestRefund(ctx, "alice", req.ID)
	require.NoError(t, err)
	require.EqualValues(t, 49, payout.Amount)
}

func TestConcurrentRefundsPayExactlyOnce(t *testing.T) {
	base := memory.New()
	store := &rendezvousStore{Store: base}
	ctx := context.Background()

	eventLog := events.NewLog(200)
	acc := accesssvc.New(base, eventLog, nil)
	require.NoError(t, acc.Bootstrap(ctx, "owner-1"))
	engine := compute.NewSimulatedEngine()
	reqSvc := requestssvc.New(store, acc, engine, eventLog, requestssvc.Config{FeePercent: 2, MinimumStake: 50}, nil)
	counting := &countingTransferer{}
	svc := New(store, base, acc, counting, eventLog, lifecyclesvc.DefaultConfig(), nil)

	req, err := reqSvc.Create(ctx, "alice", 1, "", "", 50)
	require.NoError(t, err)
	require.EqualValues(t, 49, req.Stake)

	now := time.Now().UTC()
	svc.now = func() time.Time { return now.Add(25 * time.Hour) }

	// Both callers read the request before either writes, so each observes a
	// still-eligible stake.
	store.holdNextReads(2)
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := svc.RequestRefund(ctx, "alice", req.ID)
			results <- err
		}()
	}

	var succeeded, rejected int
	for i := 0; i < 2; i++ {
		switch err := <-results; {
		case err == nil:
			succeeded++
		case apperr.CodeOf(err) == apperr.CodeRefundAlreadyIssued:
			rejected++
		default:
			t.Fatalf("unexpected refund outcome: %v", err)
		}
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, rejected)

	// The stake left the system exactly once.
	require.Equal(t, 1, counting.calls)
	require.EqualValues(t, 49, counting.total)
	payouts, err := svc.Payouts(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, payouts, 1)

	final, err := base.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	require.False(t, final.RefundEligible)
}

func TestDrainRestoresStateWhenSweepAborts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.createScenarioRequest(t)
	second := h.createScenarioRequest(t)
	for _, id := range []uint64{first.ID, second.ID} {
		_, err := h.lifecycle.Process(ctx, "owner-1", id)
		require.NoError(t, err)
		require.NoError(t, h.lifecycle.MarkFailed(ctx, "owner-1", id, "engine rejected batch"))
	}

	// The first stake flip lands, the second hits a dead store.
	flaky := &flakyUpdateStore{Store: h.store, allow: 1}
	svc := New(flaky, h.store, h.access, nil, h.events, lifecyclesvc.DefaultConfig(), nil)

	_, err := svc.Drain(ctx, "recovery")
	require.Error(t, err)

	// Fees are back in the pool and both stakes stay refundable; nothing is
	// stranded half-swept.
	pool, err := h.store.FeePool(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, pool.Accumulated)
	require.Zero(t, pool.TotalWithdrawn)
	for _, id := range []uint64{first.ID, second.ID} {
		req, err := h.store.GetRequest(ctx, id)
		require.NoError(t, err)
		require.True(t, req.RefundEligible)
	}
	payouts, err := h.store.ListPayouts(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, payouts)
}

func TestWithdrawFees(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Three requests with deposit 50 each accumulate 3 in fees.
	for i := 0; i < 3; i++ {
		_, err := h.requests.Create(ctx, "alice", 1, "", "", 50)
		require.NoError(t, err)
	}

	_, err := h.svc.WithdrawFees(ctx, "mallory", "treasury")
	require.Equal(t, apperr.CodeNotAuthorized, apperr.CodeOf(err))

	payout, err := h.svc.WithdrawFees(ctx, "owner-1", "treasury")
	require.NoError(t, err)
	require.EqualValues(t, 3, payout.Amount)
	require.Equal(t, settlement.PayoutFeeWithdrawal, payout.Kind)

	pool, err := h.svc.FeePool(ctx)
	require.NoError(t, err)
	require.Zero(t, pool.Accumulated)
	require.EqualValues(t, 3, pool.TotalWithdrawn)

	_, err = h.svc.WithdrawFees(ctx, "owner-1", "treasury")
	require.Error(t, err, "second withdrawal finds an empty pool")
}

func TestWithdrawFeesRollsBackOnTransferFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.requests.Create(ctx, "alice", 1, "", "", 50)
	require.NoError(t, err)

	h.svc.transfer = &failingTransferer{}
	_, err = h.svc.WithdrawFees(ctx, "owner-1", "treasury")
	require.Equal(t, apperr.CodeTransferFailed, apperr.CodeOf(err))

	pool, err := h.svc.FeePool(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, pool.Accumulated)
	require.Zero(t, pool.TotalWithdrawn)
}
