// Package scheduler periodically claims due alert logs and hands them to
// the delivery workers.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"alert-dispatcher/internal/metrics"
	"alert-dispatcher/internal/models"
	"alert-dispatcher/internal/notification"
)

// Store claims due logs. *db.DB satisfies it.
type Store interface {
	ClaimDueLogs(ctx context.Context, now time.Time, limit int) ([]int64, error)
	ReleaseClaim(ctx context.Context, id int64) error
}

type Scheduler struct {
	store      Store
	dispatcher notification.Dispatcher
	interval   time.Duration
	batchSize  int
	metrics    *metrics.Metrics
	logger     *logrus.Entry
	now        func() time.Time
}

func New(store Store, dispatcher notification.Dispatcher, interval time.Duration, batchSize int, m *metrics.Metrics, logger *logrus.Entry) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		interval:   interval,
		batchSize:  batchSize,
		metrics:    m,
		logger:     logger,
		now:        time.Now,
	}
}

// Start runs scans on a ticker until ctx is cancelled. The first scan runs
// immediately.
func (s *Scheduler) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		s.logger.Infof("Scheduler started, scanning every %s", s.interval)
		for {
			if _, err := s.Scan(ctx); err != nil && ctx.Err() == nil {
				s.logger.Errorf("Scan failed: %v", err)
			}
			select {
			case <-ctx.Done():
				s.logger.Info("Scheduler stopped")
				return
			case <-ticker.C:
			}
		}
	}()
}

// Scan claims every log due now and dispatches one task per log. It returns
// the number of tasks handed off.
func (s *Scheduler) Scan(ctx context.Context) (int, error) {
	start := time.Now()
	now := s.now().UTC()
	dispatched, claimed := 0, 0
	defer func() { s.metrics.ObserveScan(claimed, time.Since(start)) }()

	for {
		ids, err := s.store.ClaimDueLogs(ctx, now, s.batchSize)
		if err != nil {
			return dispatched, err
		}
		claimed += len(ids)

		failed := 0
		for _, id := range ids {
			task := models.DeliveryTask{RequestID: uuid.NewString(), LogID: id, Attempt: 1}
			if err := s.dispatcher.Dispatch(ctx, task); err != nil {
				s.logger.WithField("log_id", id).Errorf("Dispatch failed, releasing claim: %v", err)
				if rerr := s.store.ReleaseClaim(context.WithoutCancel(ctx), id); rerr != nil {
					s.logger.WithField("log_id", id).Errorf("Failed to release claim: %v", rerr)
				}
				failed++
				continue
			}
			dispatched++
		}

		// released logs are due again at once; leave them for the next tick
		if len(ids) < s.batchSize || failed > 0 || ctx.Err() != nil {
			break
		}
	}

	if claimed > 0 {
		s.logger.Infof("Claimed %d due log(s), dispatched %d", claimed, dispatched)
	}
	return dispatched, nil
}
