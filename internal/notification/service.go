package notification

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"alert-dispatcher/internal/metrics"
	"alert-dispatcher/internal/models"
)

// Dispatcher hands a delivery task to whatever runs it.
type Dispatcher interface {
	Dispatch(ctx context.Context, task models.DeliveryTask) error
}

// ErrStopped is returned by Dispatch once the pool has been stopped.
var ErrStopped = errors.New("notification service stopped")

// Options configures the worker pool.
type Options struct {
	QueueSize   int
	MaxWorkers  int
	MaxAttempts int
	RetryDelay  time.Duration
}

// Service runs delivery tasks on a fixed pool of workers and schedules
// retries of failed attempts.
type Service struct {
	store     Store
	deliverer *Deliverer
	logger    *logrus.Entry
	metrics   *metrics.Metrics
	opts      Options
	tasks     chan models.DeliveryTask
	ctx       context.Context
	cancel    context.CancelFunc
	wg        *sync.WaitGroup
	retries   Dispatcher
	now       func() time.Time

	mu      sync.RWMutex
	stopped bool
}

// New constructs a Service. Retries go back into the local queue until
// SetRetryDispatcher says otherwise.
func New(store Store, deliverer *Deliverer, opts Options, m *metrics.Metrics, logger *logrus.Entry) *Service {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 500
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 10
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	ctx, cancel := context.WithCancel(context.Background())
	svc := &Service{
		store:     store,
		deliverer: deliverer,
		logger:    logger,
		metrics:   m,
		opts:      opts,
		tasks:     make(chan models.DeliveryTask, opts.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
		now:       time.Now,
	}
	svc.retries = svc
	return svc
}

// SetRetryDispatcher routes retries elsewhere, e.g. to a durable topic.
func (s *Service) SetRetryDispatcher(d Dispatcher) {
	s.retries = d
}

// Logger exposes the Service's logger to the Kafka consumer or caller.
func (s *Service) Logger() *logrus.Entry {
	return s.logger
}

// Deliverer exposes the delivery task for synchronous callers such as test
// sends.
func (s *Service) Deliverer() *Deliverer {
	return s.deliverer
}

// Start launches the worker pool.
func (s *Service) Start(wg *sync.WaitGroup) {
	s.wg = wg
	for i := 0; i < s.opts.MaxWorkers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

// Stop cancels the workers and hands every task still queued back to the
// scan. In-flight tasks finish with a cancelled context.
func (s *Service) Stop() {
	s.cancel()

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	for {
		select {
		case task := <-s.tasks:
			s.release(context.Background(), task)
		default:
			s.metrics.SetQueueDepth(0)
			return
		}
	}
}

// Dispatch enqueues a task on the local pool. Tasks due in the future are
// enqueued when they become due. Blocks while the queue is full.
func (s *Service) Dispatch(ctx context.Context, task models.DeliveryTask) error {
	if wait := task.NotBefore.Sub(s.now()); wait > 0 {
		time.AfterFunc(wait, func() {
			if err := s.enqueue(s.ctx, task); err != nil {
				s.logger.Warnf("Dropping delayed task for log %d: %v", task.LogID, err)
			}
		})
		return nil
	}
	return s.enqueue(ctx, task)
}

func (s *Service) enqueue(ctx context.Context, task models.DeliveryTask) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return ErrStopped
	}
	select {
	case s.tasks <- task:
		s.metrics.SetQueueDepth(len(s.tasks))
		s.logger.Debugf("Queued task: request_id=%s log_id=%d attempt=%d", task.RequestID, task.LogID, task.Attempt)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// worker processes tasks until the context is cancelled.
func (s *Service) worker(id int) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			s.logger.Infof("Worker %d stopped", id)
			return
		case task := <-s.tasks:
			s.metrics.SetQueueDepth(len(s.tasks))
			s.Process(s.ctx, task)
		}
	}
}

// Process runs one task: it waits for NotBefore, re-claims the log for
// retries, delivers, and schedules the next attempt when one is due.
func (s *Service) Process(ctx context.Context, task models.DeliveryTask) Outcome {
	log := s.logger.WithFields(logrus.Fields{
		"request_id": task.RequestID,
		"log_id":     task.LogID,
		"attempt":    task.Attempt,
	})

	if wait := task.NotBefore.Sub(s.now()); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			log.Warn("Cancelled while waiting for retry delay")
			s.release(context.WithoutCancel(ctx), task)
			return Outcome{Err: ctx.Err().Error()}
		}
	}

	if err := ctx.Err(); err != nil {
		log.Warn("Cancelled before delivery")
		s.release(context.WithoutCancel(ctx), task)
		return Outcome{Err: err.Error()}
	}

	if task.Attempt > 1 {
		ok, err := s.store.ClaimRetry(ctx, task.LogID, s.opts.MaxAttempts)
		if err != nil {
			log.Errorf("Failed to claim log for retry: %v", err)
			return Outcome{Err: err.Error()}
		}
		if !ok {
			log.Info("Log is no longer retryable, skipping")
			return Outcome{}
		}
	}

	out := s.deliverer.Deliver(ctx, task.LogID)
	if out.Retry {
		next := models.DeliveryTask{
			RequestID: task.RequestID,
			LogID:     task.LogID,
			Attempt:   task.Attempt + 1,
			NotBefore: s.now().Add(s.opts.RetryDelay).UTC(),
		}
		if err := s.retries.Dispatch(ctx, next); err != nil {
			log.Errorf("Failed to schedule retry: %v", err)
		}
	}
	return out
}

// release puts the claimed log of a first attempt back to queued so the next
// scan picks it up. Retries hold no claim until they run.
func (s *Service) release(ctx context.Context, task models.DeliveryTask) {
	if task.Attempt > 1 {
		return
	}
	if err := s.store.ReleaseClaim(ctx, task.LogID); err != nil {
		s.logger.WithField("log_id", task.LogID).Errorf("Failed to release claim: %v", err)
		return
	}
	s.logger.WithField("log_id", task.LogID).Info("Released unprocessed log back to queued")
}
