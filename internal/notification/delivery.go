package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"alert-dispatcher/internal/composer"
	"alert-dispatcher/internal/db"
	"alert-dispatcher/internal/metrics"
	"alert-dispatcher/internal/models"
	"alert-dispatcher/internal/providers"
	"alert-dispatcher/pkg/telegram"
)

// Store is the persistence the delivery path needs. *db.DB satisfies it.
type Store interface {
	GetLog(ctx context.Context, id int64) (models.AlertLog, error)
	GetSample(ctx context.Context, id int64) (models.AlertSample, error)
	GetConfig(ctx context.Context, id int64) (models.AlertConfig, error)
	GetService(ctx context.Context, id int64) (models.AlertService, error)
	GetUser(ctx context.Context, id int64) (models.User, error)
	GetActiveTestCredentials(ctx context.Context, serviceCode string) (models.TestCredentials, error)
	MarkFailed(ctx context.Context, id int64, errMsg string) (int, error)
	ClaimRetry(ctx context.Context, id int64, maxAttempts int) (bool, error)
	CompleteDelivery(ctx context.Context, c db.Completion) (int64, error)
	ReleaseClaim(ctx context.Context, id int64) error
}

// StatusPublisher receives every log state change the delivery path makes.
type StatusPublisher interface {
	Publish(update models.LogStatusUpdate)
}

// Outcome reports what one delivery attempt did to its log.
type Outcome struct {
	Status     models.LogStatus
	RetryCount int
	// Retry is set when the failure is retryable and attempts remain.
	Retry bool
	// NextLogID is the queued log of the next occurrence, if one was created.
	NextLogID int64
	Err       string
}

// DelivererOptions configures a Deliverer.
type DelivererOptions struct {
	UploadDir           string
	MaxAttempts         int
	FailFastCredentials bool
}

// Deliverer runs the delivery task for a single claimed log.
type Deliverer struct {
	store     Store
	sender    providers.Sender
	composer  *composer.Composer
	opts      DelivererOptions
	metrics   *metrics.Metrics
	publisher StatusPublisher
	logger    *logrus.Entry
	now       func() time.Time
}

func NewDeliverer(store Store, sender providers.Sender, comp *composer.Composer, opts DelivererOptions, m *metrics.Metrics, logger *logrus.Entry) *Deliverer {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	return &Deliverer{
		store:    store,
		sender:   sender,
		composer: comp,
		opts:     opts,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// SetPublisher attaches a live status feed. Passing nil detaches it.
func (d *Deliverer) SetPublisher(p StatusPublisher) {
	d.publisher = p
}

// failure is a delivery problem detected before or while sending.
type failure struct {
	msg       string
	retryable bool
}

func (f *failure) Error() string { return f.msg }

func permanent(format string, args ...any) *failure {
	return &failure{msg: fmt.Sprintf(format, args...)}
}

func transient(format string, args ...any) *failure {
	return &failure{msg: fmt.Sprintf(format, args...), retryable: true}
}

// Deliver sends the message for a claimed log and records the result. Logs
// not in the sending state are left untouched.
func (d *Deliverer) Deliver(ctx context.Context, logID int64) Outcome {
	log := d.logger.WithField("log_id", logID)

	lg, err := d.store.GetLog(ctx, logID)
	if err != nil {
		log.Errorf("Failed to load log: %v", err)
		return Outcome{Err: err.Error()}
	}
	if lg.Status != models.StatusSending {
		log.Warnf("Log is %s, not sending; skipping", lg.Status)
		return Outcome{Status: lg.Status, RetryCount: lg.RetryCount}
	}
	log = log.WithField("sample_id", lg.SampleID)

	sample, err := d.store.GetSample(ctx, lg.SampleID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return d.fail(ctx, log, lg, permanent("Sample not found"))
		}
		return d.fail(ctx, log, lg, transient("Failed to load sample: %v", err))
	}

	destination, token, ferr := d.resolve(ctx, log, sample)
	if ferr != nil {
		return d.fail(ctx, log, lg, ferr)
	}

	message := d.composer.Compose(composer.Input{
		Title:      sample.Title,
		Body:       sample.Body,
		SenderName: sample.SenderName,
		Document:   sample.DocumentUpload,
	})

	start := time.Now()
	res := d.sender.Send(ctx, token, destination, message, sample.AttachmentPath(d.opts.UploadDir))
	d.metrics.ObserveSend(string(res.Method), time.Since(start))

	switch res.Outcome {
	case telegram.OutcomeOK:
		return d.complete(ctx, log, lg, sample)
	case telegram.OutcomeTransient:
		retryable := true
		if d.opts.FailFastCredentials && Classify(res.Detail) != KindOther {
			retryable = false
		}
		return d.fail(ctx, log, lg, &failure{msg: SanitizeError(res.Detail), retryable: retryable})
	default:
		return d.fail(ctx, log, lg, permanent("%s", SanitizeError(res.Detail)))
	}
}

// resolve picks the chat and bot token for a sample. A targeted user's own
// chat wins over the config's group.
func (d *Deliverer) resolve(ctx context.Context, log *logrus.Entry, sample models.AlertSample) (string, string, *failure) {
	cfg, err := d.store.GetConfig(ctx, sample.ConfigID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return "", "", permanent("Alert config not found")
		}
		return "", "", transient("Failed to load alert config: %v", err)
	}
	if !cfg.Enabled {
		return "", "", permanent("Alert config %d is disabled", cfg.ID)
	}
	if cfg.AuthToken == "" {
		return "", "", permanent("Bot token not configured for alert config %d", cfg.ID)
	}

	if sample.UserID != nil {
		user, err := d.store.GetUser(ctx, *sample.UserID)
		switch {
		case err == nil && user.TelegramChatID != nil && *user.TelegramChatID != "":
			return *user.TelegramChatID, cfg.AuthToken, nil
		case err != nil && !errors.Is(err, db.ErrNotFound):
			return "", "", transient("Failed to load user %d: %v", *sample.UserID, err)
		}
		log.Debugf("User %d has no Telegram chat id, falling back to group", *sample.UserID)
	}

	if dest := cfg.Destination(); dest != "" {
		return dest, cfg.AuthToken, nil
	}
	return "", "", permanent("No destination: no user chat id and no group id on alert config %d", cfg.ID)
}

func (d *Deliverer) fail(ctx context.Context, log *logrus.Entry, lg models.AlertLog, f *failure) Outcome {
	// the attempt already happened; record it even when ctx is done
	count, err := d.store.MarkFailed(context.WithoutCancel(ctx), lg.ID, f.msg)
	if err != nil {
		log.Errorf("Failed to record delivery failure %q: %v", f.msg, err)
		return Outcome{Status: models.StatusSending, RetryCount: lg.RetryCount, Err: f.msg}
	}

	out := Outcome{
		Status:     models.StatusFailed,
		RetryCount: count,
		Retry:      f.retryable && count < d.opts.MaxAttempts,
		Err:        f.msg,
	}
	if out.Retry {
		log.Warnf("Delivery failed (attempt %d of %d), will retry: %s", count, d.opts.MaxAttempts, f.msg)
		d.metrics.ObserveDelivery(metrics.OutcomeRetry)
	} else {
		log.Errorf("Delivery failed permanently after %d attempt(s): %s", count, f.msg)
		d.metrics.ObserveDelivery(metrics.OutcomeFailed)
	}
	d.publish(lg, out)
	return out
}

func (d *Deliverer) complete(ctx context.Context, log *logrus.Entry, lg models.AlertLog, sample models.AlertSample) Outcome {
	now := d.now().UTC()
	c := db.Completion{LogID: lg.ID, SentAt: now, SampleID: sample.ID}

	if sample.IsRecurring {
		interval, err := ParseInterval(sample.RecurrenceInterval)
		if err != nil {
			log.Errorf("Not scheduling next occurrence: %v", err)
		} else {
			next := sample.StartAt.Add(interval).UTC()
			c.NextStart = &next
			if sample.EndDate == nil || !next.After(*sample.EndDate) {
				nextLog := models.NewOccurrenceLog(sample, next, now)
				c.NextLog = &nextLog
			} else {
				log.Infof("Recurrence ended on %s, no further occurrences", sample.EndDate.Format(time.RFC3339))
			}
		}
	}

	nextID, err := d.store.CompleteDelivery(context.WithoutCancel(ctx), c)
	if err != nil {
		// The message went out; never turn this into a retry.
		log.Errorf("Message delivered but the log could not be completed: %v", err)
		return Outcome{Status: models.StatusSending, RetryCount: lg.RetryCount, Err: err.Error()}
	}

	out := Outcome{Status: models.StatusSent, RetryCount: lg.RetryCount, NextLogID: nextID}
	if c.NextLog != nil {
		log.Infof("Delivered; next occurrence at %s queued as log %d", c.NextLog.ScheduledFor.Format(time.RFC3339), nextID)
	} else {
		log.Info("Delivered")
	}
	d.metrics.ObserveDelivery(metrics.OutcomeSent)
	d.publish(lg, out)
	return out
}

func (d *Deliverer) publish(lg models.AlertLog, out Outcome) {
	if d.publisher == nil {
		return
	}
	d.publisher.Publish(models.LogStatusUpdate{
		LogID:        lg.ID,
		SampleID:     lg.SampleID,
		Status:       out.Status,
		RetryCount:   out.RetryCount,
		ErrorMessage: out.Err,
		At:           d.now().UTC(),
	})
}

// TestSend renders a sample and sends it through the service's active test
// credentials. No log is read or written.
func (d *Deliverer) TestSend(ctx context.Context, sampleID int64) (telegram.Result, error) {
	sample, err := d.store.GetSample(ctx, sampleID)
	if err != nil {
		return telegram.Result{}, err
	}
	svc, err := d.store.GetService(ctx, sample.ServiceID)
	if err != nil {
		return telegram.Result{}, err
	}
	creds, err := d.store.GetActiveTestCredentials(ctx, svc.Code)
	if err != nil {
		return telegram.Result{}, err
	}

	message := d.composer.Compose(composer.Input{
		Title:      sample.Title,
		Body:       sample.Body,
		SenderName: sample.SenderName,
		Document:   sample.DocumentUpload,
	})
	res := d.sender.Send(ctx, creds.AuthToken, creds.GroupID, message, sample.AttachmentPath(d.opts.UploadDir))
	d.logger.WithFields(logrus.Fields{
		"sample_id": sampleID,
		"service":   svc.Code,
		"outcome":   res.Outcome.String(),
	}).Info("Test send finished")
	return res, nil
}
