package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/compute"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/domain/access"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/domain/request"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/domain/settlement"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.RequestStore = (*Store)(nil)
var _ storage.SettlementStore = (*Store)(nil)
var _ storage.AccessStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- RequestStore -----------------------------------------------------------

func (s *Store) CreateRequest(ctx context.Context, req request.Request) (request.Request, error) {
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return request.Request{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		INSERT INTO route_requests (owner_principal, item_count, max_distance, capacity_limit, status, stake, fee, multiplier, refund_eligible, correlation_id, fail_reason, created_at, processing_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`, req.Owner, req.ItemCount, string(req.MaxDistance), string(req.CapacityLimit), string(req.Status), req.Stake, req.Fee, req.Multiplier, req.RefundEligible, req.CorrelationID, req.FailReason, req.CreatedAt, toNullTime(req.ProcessingAt))
	if err := row.Scan(&req.ID); err != nil {
		return request.Request{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE route_fee_pool SET accumulated = accumulated + $1 WHERE singleton
	`, req.Fee); err != nil {
		return request.Request{}, err
	}

	if err := tx.Commit(); err != nil {
		return request.Request{}, err
	}
	return req, nil
}

func (s *Store) UpdateRequest(ctx context.Context, req request.Request) (request.Request, error) {
	existing, err := s.GetRequest(ctx, req.ID)
	if err != nil {
		return request.Request{}, err
	}

	// Creation-time fields never change; the multiplier is write-once.
	req.Owner = existing.Owner
	req.CreatedAt = existing.CreatedAt
	req.Stake = existing.Stake
	req.Fee = existing.Fee
	if existing.Multiplier != 0 {
		req.Multiplier = existing.Multiplier
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE route_requests
		SET item_count = $2, max_distance = $3, capacity_limit = $4, status = $5, refund_eligible = $6, correlation_id = $7, fail_reason = $8, processing_at = $9, multiplier = $10
		WHERE id = $1
	`, req.ID, req.ItemCount, string(req.MaxDistance), string(req.CapacityLimit), string(req.Status), req.RefundEligible, req.CorrelationID, req.FailReason, toNullTime(req.ProcessingAt), req.Multiplier)
	if err != nil {
		return request.Request{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return request.Request{}, sql.ErrNoRows
	}
	return req, nil
}

func (s *Store) UpdateRequestIf(ctx context.Context, req request.Request, expectStatus request.Status, expectRefundEligible bool) (request.Request, error) {
	// Single statement so the expectation check and the write cannot
	// interleave with a concurrent claimant. The multiplier stays write-once
	// via the CASE guard instead of a read-then-pin round trip.
	result, err := s.db.ExecContext(ctx, `
		UPDATE route_requests
		SET item_count = $2, max_distance = $3, capacity_limit = $4, status = $5, refund_eligible = $6, correlation_id = $7, fail_reason = $8, processing_at = $9,
		    multiplier = CASE WHEN multiplier <> 0 THEN multiplier ELSE $10 END
		WHERE id = $1 AND status = $11 AND refund_eligible = $12
	`, req.ID, req.ItemCount, string(req.MaxDistance), string(req.CapacityLimit), string(req.Status), req.RefundEligible, req.CorrelationID, req.FailReason, toNullTime(req.ProcessingAt), req.Multiplier, string(expectStatus), expectRefundEligible)
	if err != nil {
		return request.Request{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		if _, getErr := s.GetRequest(ctx, req.ID); getErr != nil {
			return request.Request{}, getErr
		}
		return request.Request{}, storage.ErrConflict
	}
	return s.GetRequest(ctx, req.ID)
}

func (s *Store) GetRequest(ctx context.Context, id uint64) (request.Request, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_principal, item_count, max_distance, capacity_limit, status, stake, fee, multiplier, refund_eligible, correlation_id, fail_reason, created_at, processing_at
		FROM route_requests
		WHERE id = $1
	`, id)
	return scanRequest(row)
}

func (s *Store) ListRequestsByOwner(ctx context.Context, owner string) ([]request.Request, error) {
	return s.listRequests(ctx, `
		SELECT id, owner_principal, item_count, max_distance, capacity_limit, status, stake, fee, multiplier, refund_eligible, correlation_id, fail_reason, created_at, processing_at
		FROM route_requests
		WHERE owner_principal = $1
		ORDER BY id
	`, owner)
}

func (s *Store) ListRequestsByStatus(ctx context.Context, status request.Status) ([]request.Request, error) {
	return s.listRequests(ctx, `
		SELECT id, owner_principal, item_count, max_distance, capacity_limit, status, stake, fee, multiplier, refund_eligible, correlation_id, fail_reason, created_at, processing_at
		FROM route_requests
		WHERE status = $1
		ORDER BY id
	`, string(status))
}

func (s *Store) listRequests(ctx context.Context, query string, arg any) ([]request.Request, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []request.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, req)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (request.Request, error) {
	var (
		req          request.Request
		status       string
		maxDistance  string
		capacity     string
		processingAt sql.NullTime
	)
	if err := row.Scan(&req.ID, &req.Owner, &req.ItemCount, &maxDistance, &capacity, &status, &req.Stake, &req.Fee, &req.Multiplier, &req.RefundEligible, &req.CorrelationID, &req.FailReason, &req.CreatedAt, &processingAt); err != nil {
		return request.Request{}, err
	}
	req.Status = request.Status(status)
	req.MaxDistance = handleOf(maxDistance)
	req.CapacityLimit = handleOf(capacity)
	if processingAt.Valid {
		req.ProcessingAt = processingAt.Time.UTC()
	}
	return req, nil
}

func (s *Store) PutItem(ctx context.Context, item request.Item) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO route_items (request_id, item_index, x, y, weight, price, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (request_id, item_index)
		DO UPDATE SET x = EXCLUDED.x, y = EXCLUDED.y, weight = EXCLUDED.weight, price = EXCLUDED.price, active = EXCLUDED.active
	`, item.RequestID, item.Index, string(item.X), string(item.Y), string(item.Weight), string(item.Price), item.Active)
	return err
}

func (s *Store) ListItems(ctx context.Context, requestID uint64) ([]request.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT request_id, item_index, x, y, weight, price, active
		FROM route_items
		WHERE request_id = $1
		ORDER BY item_index
	`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []request.Item
	for rows.Next() {
		var (
			item                request.Item
			x, y, weight, price string
		)
		if err := rows.Scan(&item.RequestID, &item.Index, &x, &y, &weight, &price, &item.Active); err != nil {
			return nil, err
		}
		item.X = handleOf(x)
		item.Y = handleOf(y)
		item.Weight = handleOf(weight)
		item.Price = handleOf(price)
		result = append(result, item)
	}
	return result, rows.Err()
}

func (s *Store) PutResult(ctx context.Context, res request.Result) error {
	orderJSON, err := json.Marshal(res.ItemOrder)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO route_results (request_id, distance, cost, item_order, finalized, revealed_distance, revealed_cost, finalized_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (request_id)
		DO UPDATE SET distance = EXCLUDED.distance, cost = EXCLUDED.cost, item_order = EXCLUDED.item_order, finalized = EXCLUDED.finalized, revealed_distance = EXCLUDED.revealed_distance, revealed_cost = EXCLUDED.revealed_cost, finalized_at = EXCLUDED.finalized_at
	`, res.RequestID, string(res.Distance), string(res.Cost), orderJSON, res.Finalized, res.RevealedDistance, res.RevealedCost, toNullTime(res.FinalizedAt))
	return err
}

func (s *Store) GetResult(ctx context.Context, requestID uint64) (request.Result, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT request_id, distance, cost, item_order, finalized, revealed_distance, revealed_cost, finalized_at
		FROM route_results
		WHERE request_id = $1
	`, requestID)

	var (
		res            request.Result
		distance, cost string
		orderRaw       []byte
		finalizedAt    sql.NullTime
	)
	if err := row.Scan(&res.RequestID, &distance, &cost, &orderRaw, &res.Finalized, &res.RevealedDistance, &res.RevealedCost, &finalizedAt); err != nil {
		return request.Result{}, err
	}
	res.Distance = handleOf(distance)
	res.Cost = handleOf(cost)
	if len(orderRaw) > 0 {
		_ = json.Unmarshal(orderRaw, &res.ItemOrder)
	}
	if finalizedAt.Valid {
		res.FinalizedAt = finalizedAt.Time.UTC()
	}
	return res, nil
}

func (s *Store) PutCorrelation(ctx context.Context, correlationID string, requestID uint64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO route_correlations (correlation_id, request_id)
		VALUES ($1, $2)
	`, correlationID, requestID)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
		return fmt.Errorf("correlation id %s already recorded", correlationID)
	}
	return err
}

func (s *Store) GetCorrelation(ctx context.Context, correlationID string) (uint64, error) {
	var requestID uint64
	err := s.db.QueryRowContext(ctx, `
		SELECT request_id FROM route_correlations WHERE correlation_id = $1
	`, correlationID).Scan(&requestID)
	return requestID, err
}

// --- SettlementStore --------------------------------------------------------

func (s *Store) FeePool(ctx context.Context) (settlement.FeePool, error) {
	var pool settlement.FeePool
	err := s.db.QueryRowContext(ctx, `
		SELECT accumulated, total_withdrawn FROM route_fee_pool WHERE singleton
	`).Scan(&pool.Accumulated, &pool.TotalWithdrawn)
	return pool, err
}

func (s *Store) TakeFees(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var amount int64

	if err := tx.QueryRowContext(ctx, `
		SELECT accumulated FROM route_fee_pool WHERE singleton FOR UPDATE
	`).Scan(&amount); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE route_fee_pool
		SET accumulated = 0, total_withdrawn = total_withdrawn + $1
		WHERE singleton
	`, amount); err != nil {
		return 0, err
	}
	return amount, tx.Commit()
}

func (s *Store) RestoreFees(ctx context.Context, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("cannot restore negative fee amount %d", amount)
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE route_fee_pool
		SET accumulated = accumulated + $1, total_withdrawn = total_withdrawn - $1
		WHERE singleton
	`, amount)
	return err
}

func (s *Store) RecordPayout(ctx context.Context, p settlement.Payout) (settlement.Payout, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.IssuedAt.IsZero() {
		p.IssuedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO route_payouts (id, request_id, kind, recipient, amount, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.RequestID, string(p.Kind), p.To, p.Amount, p.IssuedAt)
	if err != nil {
		return settlement.Payout{}, err
	}
	return p, nil
}

func (s *Store) ListPayouts(ctx context.Context, requestID uint64) ([]settlement.Payout, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, kind, recipient, amount, issued_at
		FROM route_payouts
		WHERE $1 = 0 OR request_id = $1
		ORDER BY issued_at
	`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []settlement.Payout
	for rows.Next() {
		var (
			p    settlement.Payout
			kind string
		)
		if err := rows.Scan(&p.ID, &p.RequestID, &kind, &p.To, &p.Amount, &p.IssuedAt); err != nil {
			return nil, err
		}
		p.Kind = settlement.PayoutKind(kind)
		result = append(result, p)
	}
	return result, rows.Err()
}

// --- AccessStore ------------------------------------------------------------

func (s *Store) Owner(ctx context.Context) (string, error) {
	var owner string
	err := s.db.QueryRowContext(ctx, `
		SELECT owner_principal FROM route_access_state WHERE singleton
	`).Scan(&owner)
	return owner, err
}

func (s *Store) SetOwner(ctx context.Context, principal string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE route_access_state SET owner_principal = $1 WHERE singleton
	`, principal)
	return err
}

func (s *Store) HasRole(ctx context.Context, principal string, role access.Role) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM route_roles WHERE principal = $1 AND role = $2)
	`, principal, string(role)).Scan(&exists)
	return exists, err
}

func (s *Store) SetRole(ctx context.Context, principal string, role access.Role, granted bool) error {
	if granted {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO route_roles (principal, role)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, principal, string(role))
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM route_roles WHERE principal = $1 AND role = $2
	`, principal, string(role))
	return err
}

func (s *Store) ListRoleHolders(ctx context.Context, role access.Role) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT principal FROM route_roles WHERE role = $1 ORDER BY principal
	`, string(role))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holders []string
	for rows.Next() {
		var principal string
		if err := rows.Scan(&principal); err != nil {
			return nil, err
		}
		holders = append(holders, principal)
	}
	return holders, rows.Err()
}

func (s *Store) Paused(ctx context.Context) (bool, error) {
	var paused bool
	err := s.db.QueryRowContext(ctx, `
		SELECT paused FROM route_access_state WHERE singleton
	`).Scan(&paused)
	return paused, err
}

func (s *Store) SetPaused(ctx context.Context, paused bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE route_access_state SET paused = $1 WHERE singleton
	`, paused)
	return err
}

func handleOf(s string) compute.Handle {
	return compute.Handle(s)
}

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
