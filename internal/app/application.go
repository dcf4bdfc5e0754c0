package app

import (
	"context"
	"fmt"

	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/compute"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/events"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/oracle"
	accesssvc "github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/services/access"
	adminsvc "github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/services/admin"
	lifecyclesvc "github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/services/lifecycle"
	requestssvc "github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/services/requests"
	settlementsvc "github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/services/settlement"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/storage"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/storage/memory"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/system"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Requests   storage.RequestStore
	Settlement storage.SettlementStore
	Access     storage.AccessStore
}

// Options selects the external collaborators and policies. Zero values get
// development-grade defaults: a simulated compute engine and a stub oracle.
type Options struct {
	Engine     compute.Engine
	Oracle     oracle.Oracle
	Transferer settlementsvc.Transferer

	// Owner bootstraps the initial owner principal when the store has none.
	Owner string

	Requests  requestssvc.Config
	Lifecycle lifecyclesvc.Config

	// EnableSweeper starts the background timeout sweeper.
	EnableSweeper bool

	// EventBuffer sizes the in-memory audit trail.
	EventBuffer int
}

// Application ties the domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Access     *accesssvc.Service
	Requests   *requestssvc.Service
	Lifecycle  *lifecyclesvc.Service
	Settlement *settlementsvc.Service
	Admin      *adminsvc.Service
	Events     *events.Log
}

// New builds a fully initialised application.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Requests == nil {
		stores.Requests = mem
	}
	if stores.Settlement == nil {
		stores.Settlement = mem
	}
	if stores.Access == nil {
		stores.Access = mem
	}

	engine := opts.Engine
	if engine == nil {
		log.Warn("no compute engine configured; using the in-process simulated engine")
		engine = compute.NewSimulatedEngine()
	}
	orc := opts.Oracle
	if orc == nil {
		log.Warn("no decryption oracle configured; using the in-process stub")
		simulated, _ := engine.(*compute.SimulatedEngine)
		orc = oracle.NewStub(simulated)
	}

	eventLog := events.NewLog(opts.EventBuffer)

	accessService := accesssvc.New(stores.Access, eventLog, log)
	if opts.Owner != "" {
		if err := accessService.Bootstrap(context.Background(), opts.Owner); err != nil {
			return nil, fmt.Errorf("bootstrap owner: %w", err)
		}
	}

	requestService := requestssvc.New(stores.Requests, accessService, engine, eventLog, opts.Requests, log)
	lifecycleService := lifecyclesvc.New(stores.Requests, accessService, engine, orc, eventLog, opts.Lifecycle, log)
	settlementService := settlementsvc.New(stores.Requests, stores.Settlement, accessService, opts.Transferer, eventLog, lifecycleService.Config(), log)
	adminService := adminsvc.New(accessService, settlementService, eventLog, log)

	manager := system.NewManager()
	for _, name := range []string{"access", "requests", "lifecycle", "settlement"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}

	if opts.EnableSweeper {
		sweeper := lifecyclesvc.NewSweeper(stores.Requests, eventLog, lifecycleService.Config(), log)
		if err := manager.Register(sweeper); err != nil {
			return nil, fmt.Errorf("register %s: %w", sweeper.Name(), err)
		}
	}

	return &Application{
		manager:    manager,
		log:        log,
		Access:     accessService,
		Requests:   requestService,
		Lifecycle:  lifecycleService,
		Settlement: settlementService,
		Admin:      adminService,
		Events:     eventLog,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
