// Package access enforces who may do what: role grants, the pause flag, and
// ownership of the deployment.
package access

import (
	"context"
	"fmt"
	"strings"

	apperr "github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/errors"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/domain/access"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/events"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/storage"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/pkg/logger"
)

// Service answers authorization questions and manages grants.
type Service struct {
	store  storage.AccessStore
	events events.Recorder
	log    *logger.Logger
}

// New constructs an access service.
func New(store storage.AccessStore, recorder events.Recorder, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("access")
	}
	if recorder == nil {
		recorder = events.Discard{}
	}
	return &Service{store: store, events: recorder, log: log}
}

// Bootstrap installs the initial owner if none is set. The owner implicitly
// holds every role.
func (s *Service) Bootstrap(ctx context.Context, owner string) error {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return apperr.InvalidAddress("owner")
	}
	existing, err := s.store.Owner(ctx)
	if err != nil {
		return err
	}
	if existing != "" {
		return nil
	}
	if err := s.store.SetOwner(ctx, owner); err != nil {
		return err
	}
	s.log.WithField("owner", owner).Info("initial owner installed")
	return nil
}

// Owner returns the current owner principal.
func (s *Service) Owner(ctx context.Context) (string, error) {
	return s.store.Owner(ctx)
}

// HasRole reports whether the principal holds the role, either explicitly or
// by being the owner.
func (s *Service) HasRole(ctx context.Context, principal string, role access.Role) (bool, error) {
	owner, err := s.store.Owner(ctx)
	if err != nil {
		return false, err
	}
	if owner != "" && principal == owner {
		return true, nil
	}
	return s.store.HasRole(ctx, principal, role)
}

// RequireRole returns NotAuthorized (or NotOperator for the operator role)
// when the principal lacks the role.
func (s *Service) RequireRole(ctx context.Context, principal string, role access.Role) error {
	ok, err := s.HasRole(ctx, principal, role)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if role == access.RoleOperator {
		return apperr.NotOperator(principal)
	}
	return apperr.NotAuthorized(principal, string(role))
}

// EnsureNotPaused fails with ServicePaused when the pause flag is set.
func (s *Service) EnsureNotPaused(ctx context.Context, action string) error {
	paused, err := s.store.Paused(ctx)
	if err != nil {
		return err
	}
	if paused {
		return apperr.ServicePaused(action)
	}
	return nil
}

// Paused reports the pause flag.
func (s *Service) Paused(ctx context.Context) (bool, error) {
	return s.store.Paused(ctx)
}

// Grant gives a principal a role. Admin-gated.
func (s *Service) Grant(ctx context.Context, actor, principal string, role access.Role) error {
	if err := s.RequireRole(ctx, actor, access.RoleAdmin); err != nil {
		return err
	}
	principal = strings.TrimSpace(principal)
	if principal == "" {
		return apperr.InvalidAddress("principal")
	}
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", role)
	}
	if err := s.store.SetRole(ctx, principal, role, true); err != nil {
		return err
	}
	s.events.Record(events.Event{Type: events.TypeRoleGranted, Principal: principal, Detail: string(role)})
	s.log.WithField("principal", principal).WithField("role", string(role)).Info("role granted")
	return nil
}

// Revoke removes a role from a principal. Admin-gated.
func (s *Service) Revoke(ctx context.Context, actor, principal string, role access.Role) error {
	if err := s.RequireRole(ctx, actor, access.RoleAdmin); err != nil {
		return err
	}
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", role)
	}
	if err := s.store.SetRole(ctx, principal, role, false); err != nil {
		return err
	}
	s.events.Record(events.Event{Type: events.TypeRoleRevoked, Principal: principal, Detail: string(role)})
	s.log.WithField("principal", principal).WithField("role", string(role)).Info("role revoked")
	return nil
}

// Pause sets the pause flag. Pauser-gated.
func (s *Service) Pause(ctx context.Context, actor string) error {
	if err := s.RequireRole(ctx, actor, access.RolePauser); err != nil {
		return err
	}
	if err := s.store.SetPaused(ctx, true); err != nil {
		return err
	}
	s.events.Record(events.Event{Type: events.TypePaused, Principal: actor})
	s.log.WithField("actor", actor).Warn("service paused")
	return nil
}

// Resume clears the pause flag. Pauser-gated.
func (s *Service) Resume(ctx context.Context, actor string) error {
	if err := s.RequireRole(ctx, actor, access.RolePauser); err != nil {
		return err
	}
	if err := s.store.SetPaused(ctx, false); err != nil {
		return err
	}
	s.events.Record(events.Event{Type: events.TypeResumed, Principal: actor})
	s.log.WithField("actor", actor).Info("service resumed")
	return nil
}

// TransferOwnership hands the owner principal to another address. Only the
// current owner may do this.
func (s *Service) TransferOwnership(ctx context.Context, actor, newOwner string) error {
	owner, err := s.store.Owner(ctx)
	if err != nil {
		return err
	}
	if actor != owner {
		return apperr.NotAuthorized(actor, "transfer ownership")
	}
	newOwner = strings.TrimSpace(newOwner)
	if newOwner == "" {
		return apperr.InvalidAddress("new owner")
	}
	if err := s.store.SetOwner(ctx, newOwner); err != nil {
		return err
	}
	s.events.Record(events.Event{Type: events.TypeOwnerTransferred, Principal: newOwner, Detail: "from " + owner})
	s.log.WithField("from", owner).WithField("to", newOwner).Warn("ownership transferred")
	return nil
}
