package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/domain/request"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/events"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/metrics"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/storage"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/internal/app/system"
	"github.com/JacintheSchuster/LogisticsRouteOptimizerFHE/pkg/logger"
)

var _ system.Service = (*Sweeper)(nil)

// Sweeper periodically surfaces overdue requests. Detection is purely an
// observability aid: status only flips to TimedOut when a refund is
// attempted, so the sweeper never mutates state.
type Sweeper struct {
	store    storage.RequestStore
	events   events.Recorder
	log      *logger.Logger
	cfg      Config
	interval time.Duration

	mu       sync.Mutex
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  bool
	reported map[uint64]bool

	now func() time.Time
}

// NewSweeper constructs a lifecycle-managed timeout sweeper.
func NewSweeper(store storage.RequestStore, recorder events.Recorder, cfg Config, log *logger.Logger) *Sweeper {
	if log == nil {
		log = logger.NewDefault("timeout-sweeper")
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
	return &Sweeper{
		store:    store,
		events:   recorder,
		log:      log,
		cfg:      cfg,
		interval: time.Minute,
		reported: make(map[uint64]bool),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Sweeper) Name() string { return "timeout-sweeper" }

func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.tick(runCtx)
			}
		}
	}()

	s.log.Info("timeout sweeper started")
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Info("timeout sweeper stopped")
	return nil
}

func (s *Sweeper) tick(ctx context.Context) {
	now := s.now()

	pending, err := s.store.ListRequestsByStatus(ctx, request.StatusPending)
	if err != nil {
		s.log.WithError(err).Warn("sweep pending requests")
		return
	}
	for _, req := range pending {
		if now.Sub(req.CreatedAt) > s.cfg.RequestTimeout {
			s.report(req.ID, "request")
		}
	}

	processing, err := s.store.ListRequestsByStatus(ctx, request.StatusProcessing)
	if err != nil {
		s.log.WithError(err).Warn("sweep processing requests")
		return
	}
	for _, req := range processing {
		if !req.ProcessingAt.IsZero() && now.Sub(req.ProcessingAt) > s.cfg.ProcessingTimeout {
			s.report(req.ID, "processing")
		}
	}
}

// report emits one TimeoutDetected per request per kind.
func (s *Sweeper) report(requestID uint64, kind string) {
	s.mu.Lock()
	seen := s.reported[requestID]
	s.reported[requestID] = true
	s.mu.Unlock()

	if seen {
		return
	}
	metrics.RecordTimeout(kind)
	s.events.Record(events.Event{Type: events.TypeTimeoutDetected, RequestID: requestID, Detail: kind + " timeout"})
	s.log.WithField("request_id", requestID).WithField("kind", kind).Warn("overdue request detected")
}
