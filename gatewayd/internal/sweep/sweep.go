// Package sweep schedules the gateway's periodic housekeeping jobs — nonce
// eviction, session expiry, and client online/degraded/offline transitions —
// as background ticker workers, one goroutine per job, the same shape the
// teacher's BaseService.AddTickerWorker wraps. None of these jobs are
// operator-configurable or need cron-expression scheduling, so a plain
// time.Ticker loop is all each one needs.
package sweep

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orcabay/control-plane/gatewayd/internal/metrics"
	"github.com/orcabay/control-plane/gatewayd/internal/store"
)

const (
	nonceRetention = 24 * time.Hour
	nonceInterval  = 1 * time.Hour

	sessionSweepInterval = 10 * time.Minute

	clientDegradedAfter = 30 * time.Second
	clientOfflineAfter  = 120 * time.Second
	clientSweepInterval = 15 * time.Second
)

// Notifier is the subset of notify.Service the client-status sweep needs.
type Notifier interface {
	ClientOffline(clientID, displayName string)
}

// Scheduler runs the gateway's housekeeping jobs on their own ticker
// goroutines, independent of any per-run scheduling.
type Scheduler struct {
	store    *store.Store
	notifier Notifier
	logger   *zap.Logger
	metrics  *metrics.Metrics

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Scheduler. notifier may be nil to skip offline notifications.
func New(st *store.Store, notifier Notifier, logger *zap.Logger) (*Scheduler, error) {
	return &Scheduler{
		store:    st,
		notifier: notifier,
		logger:   logger.Named("sweep"),
		stopCh:   make(chan struct{}),
	}, nil
}

// SetMetrics wires the gateway's connected-clients gauge, updated on every
// client status sweep. Left nil, the gauge is simply never touched.
func (s *Scheduler) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// Start launches one ticker worker per housekeeping job.
func (s *Scheduler) Start() error {
	s.addTickerWorker("nonces", nonceInterval, s.sweepNonces)
	s.addTickerWorker("sessions", sessionSweepInterval, s.sweepSessions)
	s.addTickerWorker("clients", clientSweepInterval, s.sweepClients)
	s.logger.Info("sweep scheduler started")
	return nil
}

// addTickerWorker runs fn at the given interval until Stop is called,
// logging (but not aborting on) errors the job returns.
func (s *Scheduler) addTickerWorker(name string, interval time.Duration, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				err := fn(ctx)
				cancel()
				if err != nil {
					s.logger.Error("worker error", zap.String("worker", name), zap.Error(err))
				}
			}
		}
	}()
}

// Stop signals every worker to exit and waits for them to finish.
func (s *Scheduler) Stop() error {
	close(s.stopCh)
	s.wg.Wait()
	return nil
}

func (s *Scheduler) sweepNonces(ctx context.Context) error {
	n, err := s.store.EvictNoncesOlderThan(ctx, time.Now().Add(-nonceRetention))
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Info("evicted expired nonces", zap.Int64("count", n))
	}
	return nil
}

func (s *Scheduler) sweepSessions(ctx context.Context) error {
	n, err := s.store.EvictExpiredSessions(ctx, time.Now())
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Info("evicted expired sessions", zap.Int64("count", n))
	}
	return nil
}

func (s *Scheduler) sweepClients(ctx context.Context) error {
	now := time.Now()

	if s.notifier != nil {
		goingOffline, err := s.store.ListClientsGoingOffline(ctx, now, clientOfflineAfter)
		if err != nil {
			s.logger.Error("listing clients going offline", zap.Error(err))
		} else {
			for _, c := range goingOffline {
				s.notifier.ClientOffline(c.ID, c.DisplayName)
			}
		}
	}

	if err := s.store.SweepClientStatus(ctx, now, clientDegradedAfter, clientOfflineAfter); err != nil {
		return err
	}

	if s.metrics != nil {
		if n, err := s.store.CountOnlineClients(ctx); err == nil {
			s.metrics.ClientsConnected.Set(float64(n))
		}
	}
	return nil
}
