// Package admin is the operator-facing control surface: role management,
// pause control, ownership transfer, and the emergency drain.
package admin

import (
	"context"
	"strings"

	apperr "github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/errors"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/domain/access"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/events"
	accesssvc "github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/services/access"
	settlementsvc "github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/services/settlement"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/pkg/logger"
)

// Service wires administrative operations over access and settlement.
type Service struct {
	access     *accesssvc.Service
	settlement *settlementsvc.Service
	events     events.Recorder
	log        *logger.Logger
}

// New constructs the admin surface.
func New(access *accesssvc.Service, settlement *settlementsvc.Service, recorder events.Recorder, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("admin")
	}
	if recorder == nil {
		recorder = events.Discard{}
	}
	return &Service{access: access, settlement: settlement, events: recorder, log: log}
}

// GrantRole gives principal a role. Admin-gated.
func (s *Service) GrantRole(ctx context.Context, actor, principal string, role access.Role) error {
	return s.access.Grant(ctx, actor, principal, role)
}

// RevokeRole removes a role from principal. Admin-gated.
func (s *Service) RevokeRole(ctx context.Context, actor, principal string, role access.Role) error {
	return s.access.Revoke(ctx, actor, principal, role)
}

// Pause halts the gated operations. Pauser-gated.
func (s *Service) Pause(ctx context.Context, actor string) error {
	return s.access.Pause(ctx, actor)
}

// Resume lifts the pause. Pauser-gated.
func (s *Service) Resume(ctx context.Context, actor string) error {
	return s.access.Resume(ctx, actor)
}

// TransferOwnership hands the deployment to a new owner.
func (s *Service) TransferOwnership(ctx context.Context, actor, newOwner string) error {
	return s.access.TransferOwnership(ctx, actor, newOwner)
}

// EmergencyDrain sweeps the fee pool and every unrefunded terminal stake to
// a recovery address. Admin-only and only while paused, so it can never race
// normal settlement.
func (s *Service) EmergencyDrain(ctx context.Context, actor, to string) (int64, error) {
	if err := s.access.RequireRole(ctx, actor, access.RoleAdmin); err != nil {
		return 0, err
	}
	paused, err := s.access.Paused(ctx)
	if err != nil {
		return 0, err
	}
	if !paused {
		return 0, apperr.NotAuthorized(actor, "drain while the service is running; pause first")
	}
	to = strings.TrimSpace(to)
	if to == "" {
		return 0, apperr.InvalidAddress(to)
	}

	total, err := s.settlement.Drain(ctx, to)
	if err != nil {
		return 0, err
	}

	s.events.Record(events.Event{Type: events.TypeEmergencyDrain, Principal: actor, Amount: total, Detail: "to " + to})
	s.log.WithField("actor", actor).WithField("to", to).WithField("amount", total).Warn("emergency drain executed")
	return total, nil
}
