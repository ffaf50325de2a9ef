package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"alert-dispatcher/internal/composer"
	"alert-dispatcher/internal/db"
	"alert-dispatcher/internal/logging"
	"alert-dispatcher/internal/models"
	"alert-dispatcher/pkg/telegram"
)

// memStore mirrors the guarded transitions of the Postgres store. Writes
// fail on a done context, as pgx does.
type memStore struct {
	mu          sync.Mutex
	logs        map[int64]*models.AlertLog
	samples     map[int64]models.AlertSample
	configs     map[int64]models.AlertConfig
	services    map[int64]models.AlertService
	users       map[int64]models.User
	creds       map[string]models.TestCredentials
	completions []db.Completion
	nextLogID   int64
}

func newMemStore() *memStore {
	return &memStore{
		logs:      map[int64]*models.AlertLog{},
		samples:   map[int64]models.AlertSample{},
		configs:   map[int64]models.AlertConfig{},
		services:  map[int64]models.AlertService{},
		users:     map[int64]models.User{},
		creds:     map[string]models.TestCredentials{},
		nextLogID: 100,
	}
}

func (m *memStore) addLog(l models.AlertLog) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[l.ID] = &l
}

func (m *memStore) log(id int64) models.AlertLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.logs[id]
}

func (m *memStore) sample(id int64) models.AlertSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.samples[id]
}

func (m *memStore) GetLog(_ context.Context, id int64) (models.AlertLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.logs[id]
	if !ok {
		return models.AlertLog{}, fmt.Errorf("log %d: %w", id, db.ErrNotFound)
	}
	return *l, nil
}

func (m *memStore) GetSample(_ context.Context, id int64) (models.AlertSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.samples[id]
	if !ok {
		return models.AlertSample{}, fmt.Errorf("sample %d: %w", id, db.ErrNotFound)
	}
	return s, nil
}

func (m *memStore) GetConfig(_ context.Context, id int64) (models.AlertConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.configs[id]
	if !ok {
		return models.AlertConfig{}, fmt.Errorf("config %d: %w", id, db.ErrNotFound)
	}
	return c, nil
}

func (m *memStore) GetService(_ context.Context, id int64) (models.AlertService, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.services[id]
	if !ok {
		return models.AlertService{}, fmt.Errorf("service %d: %w", id, db.ErrNotFound)
	}
	return s, nil
}

func (m *memStore) GetUser(_ context.Context, id int64) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return models.User{}, fmt.Errorf("user %d: %w", id, db.ErrNotFound)
	}
	return u, nil
}

func (m *memStore) GetActiveTestCredentials(_ context.Context, code string) (models.TestCredentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[code]
	if !ok || !c.IsActive {
		return models.TestCredentials{}, fmt.Errorf("test credentials for %s: %w", code, db.ErrNotFound)
	}
	return c, nil
}

func (m *memStore) MarkFailed(ctx context.Context, id int64, errMsg string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.logs[id]
	if !ok || l.Status != models.StatusSending {
		return 0, fmt.Errorf("log %d: %w", id, db.ErrNotClaimed)
	}
	l.Status = models.StatusFailed
	l.RetryCount++
	l.ErrorMessage = errMsg
	return l.RetryCount, nil
}

func (m *memStore) ClaimRetry(_ context.Context, id int64, maxAttempts int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.logs[id]
	if !ok || l.Status != models.StatusFailed || l.RetryCount >= maxAttempts {
		return false, nil
	}
	l.Status = models.StatusSending
	return true, nil
}

func (m *memStore) CompleteDelivery(ctx context.Context, c db.Completion) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.logs[c.LogID]
	if !ok || l.Status != models.StatusSending {
		return 0, fmt.Errorf("log %d: %w", c.LogID, db.ErrNotClaimed)
	}
	sentAt := c.SentAt
	l.Status = models.StatusSent
	l.SentAt = &sentAt
	l.ErrorMessage = ""
	m.completions = append(m.completions, c)

	if c.NextStart != nil {
		s := m.samples[c.SampleID]
		s.StartAt = *c.NextStart
		m.samples[c.SampleID] = s
	}
	if c.NextLog == nil {
		return 0, nil
	}
	m.nextLogID++
	next := *c.NextLog
	next.ID = m.nextLogID
	m.logs[next.ID] = &next
	return next.ID, nil
}

func (m *memStore) ReleaseClaim(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.logs[id]; ok && l.Status == models.StatusSending {
		l.Status = models.StatusQueued
	}
	return nil
}

type sendCall struct {
	Token, Destination, Message, Attachment string
}

// scriptedSender returns queued results in order, then its fallback.
type scriptedSender struct {
	mu       sync.Mutex
	results  []telegram.Result
	fallback telegram.Result
	calls    []sendCall
}

func (s *scriptedSender) Send(_ context.Context, token, destination, message, attachment string) telegram.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sendCall{token, destination, message, attachment})
	if len(s.results) > 0 {
		r := s.results[0]
		s.results = s.results[1:]
		return r
	}
	return s.fallback
}

func (s *scriptedSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type recordingPublisher struct {
	mu      sync.Mutex
	updates []models.LogStatusUpdate
}

func (p *recordingPublisher) Publish(u models.LogStatusUpdate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, u)
}

var (
	okResult      = telegram.Result{Outcome: telegram.OutcomeOK, Method: telegram.MethodMessage}
	networkResult = telegram.Result{Outcome: telegram.OutcomeTransient, Method: telegram.MethodMessage, Detail: "dial tcp: i/o timeout"}
	testStart     = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	testNow       = time.Date(2026, 3, 1, 9, 0, 7, 0, time.UTC)
)

func quietLogger() *logrus.Entry {
	return logging.Component(logging.Discard(), "test")
}

// fixture seeds service 1, enabled config 2 with group "-100200", sample 3
// and its claimed log 10.
func fixture() *memStore {
	st := newMemStore()
	st.services[1] = models.AlertService{ID: 1, Code: "billing", Name: "Billing"}
	st.configs[2] = models.AlertConfig{ID: 2, ServiceID: 1, GroupID: "-100200", AuthToken: "111:prod", Enabled: true}
	st.samples[3] = models.AlertSample{
		ID:         3,
		ServiceID:  1,
		ConfigID:   2,
		Title:      "Maintenance",
		Body:       "<p>Tonight</p>",
		SenderName: "Ops",
		StartAt:    testStart,
	}
	st.logs[10] = &models.AlertLog{
		ID:           10,
		SampleID:     3,
		ServiceID:    1,
		ConfigID:     2,
		Audience:     models.AudienceAll,
		Status:       models.StatusSending,
		ScheduledFor: testStart,
		QueuedAt:     testStart,
	}
	return st
}

func newTestDeliverer(st *memStore, sender *scriptedSender, opts DelivererOptions) *Deliverer {
	comp := composer.New(time.UTC, "https://media.example.com")
	comp.Now = func() time.Time { return testNow }
	d := NewDeliverer(st, sender, comp, opts, nil, quietLogger())
	d.now = func() time.Time { return testNow }
	return d
}
