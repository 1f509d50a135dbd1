package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/config"
	"github.com/Franklin-pro/Cinemarwa-FN-sub000/internal/metrics"
	"github.com/rs/zerolog"
)

// ArchivalConfig holds configuration for pruning settled transactions.
type ArchivalConfig struct {
	Enabled         bool
	RetentionPeriod time.Duration // default 90 days
	RunInterval     time.Duration // default 24h
}

// ArchivalConfigFromApp converts the storage.archival config section.
func ArchivalConfigFromApp(cfg config.ArchivalConfig) ArchivalConfig {
	out := ArchivalConfig{
		Enabled:         cfg.Enabled,
		RetentionPeriod: cfg.RetentionPeriod.Duration,
		RunInterval:     cfg.RunInterval.Duration,
	}
	if out.RetentionPeriod <= 0 {
		out.RetentionPeriod = 90 * 24 * time.Hour
	}
	if out.RunInterval <= 0 {
		out.RunInterval = 24 * time.Hour
	}
	return out
}

// ArchivalService prunes settled transaction records on a schedule.
// Pending records and entitlements are never touched.
type ArchivalService struct {
	store    Store
	config   ArchivalConfig
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewArchivalService creates a new archival service.
func NewArchivalService(store Store, cfg ArchivalConfig, m *metrics.Metrics, logger zerolog.Logger) *ArchivalService {
	return &ArchivalService{
		store:    store,
		config:   cfg,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the background loop. A disabled service returns immediately.
func (s *ArchivalService) Start() {
	if !s.config.Enabled {
		s.logger.Info().Msg("archival.disabled")
		close(s.doneChan)
		return
	}

	s.logger.Info().
		Dur("retention_period", s.config.RetentionPeriod).
		Dur("run_interval", s.config.RunInterval).
		Msg("archival.started")

	go s.run()
}

// Stop gracefully stops the archival service.
func (s *ArchivalService) Stop() {
	select {
	case <-s.stopChan:
	default:
		close(s.stopChan)
	}
	<-s.doneChan
}

// Close implements io.Closer for the lifecycle manager.
func (s *ArchivalService) Close() error {
	s.Stop()
	return nil
}

func (s *ArchivalService) run() {
	defer close(s.doneChan)

	s.runPass()

	ticker := time.NewTicker(s.config.RunInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runPass()
		case <-s.stopChan:
			return
		}
	}
}

func (s *ArchivalService) runPass() {
	if _, err := s.RunNow(context.Background()); err != nil {
		s.logger.Error().Err(err).Msg("archival.pass_failed")
	}
}

// RunNow performs one pass and returns the number of records removed.
func (s *ArchivalService) RunNow(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	cutoff := s.now().Add(-s.config.RetentionPeriod)
	count, err := s.store.ArchiveSettledTransactions(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("archive settled transactions: %w", err)
	}
	s.metrics.ObserveArchival(count)

	if count > 0 {
		s.logger.Info().
			Int64("count", count).
			Time("older_than", cutoff).
			Msg("archival.transactions_pruned")
	}
	return count, nil
}
