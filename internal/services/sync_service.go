package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fieldsense/soil-agent/internal/forwarder"
	"github.com/fieldsense/soil-agent/internal/models"
)

// Connectivity is the slice of the network checker the sync service needs.
type Connectivity interface {
	CheckAll(ctx context.Context, force bool) models.ConnectivityStatus
	GatewayReachable() bool
}

// QueueLen reports how many readings wait in the offline ledger.
type QueueLen interface {
	Len() int
}

// SyncService drives the gateway-check cadence: verify the gateway is
// reachable and drain a batch of the offline ledger. Successful syncs are
// spaced at least minGap apart so a busy gateway is not hammered.
type SyncService struct {
	interval time.Duration
	minGap   time.Duration
	checker  Connectivity
	fwd      forwarder.Forwarder
	queue    QueueLen
	logger   zerolog.Logger

	lastSync time.Time

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSyncService initializes a new SyncService.
func NewSyncService(interval, minGap time.Duration, checker Connectivity, fwd forwarder.Forwarder,
	queue QueueLen, logger zerolog.Logger) *SyncService {

	return &SyncService{
		interval: interval,
		minGap:   minGap,
		checker:  checker,
		fwd:      fwd,
		queue:    queue,
		logger:   logger,
	}
}

// Start launches the sync loop in a separate goroutine.
func (s *SyncService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		s.logger.Warn().Msg("SyncService is already running")
		return errors.New("sync service is already running")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run()
	}()

	s.logger.Info().Dur("interval", s.interval).Msg("SyncService started successfully")
	return nil
}

// Stop gracefully stops the sync loop.
func (s *SyncService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx == nil {
		s.logger.Warn().Msg("SyncService is not running")
		return errors.New("sync service is not running")
	}

	s.cancel()
	s.wg.Wait()

	s.ctx = nil
	s.cancel = nil

	s.logger.Info().Msg("SyncService stopped successfully")
	return nil
}

func (s *SyncService) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runCycle()
		case <-s.ctx.Done():
			s.logger.Info().Msg("SyncService stopping gracefully")
			return
		}
	}
}

func (s *SyncService) runCycle() {
	status := s.checker.CheckAll(s.ctx, true)
	if !status.Gateway {
		s.logger.Info().Msg("Gateway not available, skipping offline sync")
		return
	}

	if s.queue.Len() == 0 {
		s.logger.Debug().Msg("No offline data to sync")
		return
	}

	if !s.lastSync.IsZero() && time.Since(s.lastSync) < s.minGap {
		s.logger.Debug().Time("last_sync", s.lastSync).Msg("Last sync too recent, skipping")
		return
	}

	sent, remaining := s.fwd.FlushOffline(s.ctx)
	if sent > 0 {
		s.lastSync = time.Now()
		s.logger.Info().Int("sent", sent).Int("remaining", remaining).Msg("Synced offline records")
	} else if remaining > 0 {
		s.logger.Warn().Int("remaining", remaining).Msg("Could not sync any offline records")
	}
}
