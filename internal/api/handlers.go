package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"alert-dispatcher/internal/db"
	"alert-dispatcher/internal/models"
	"alert-dispatcher/internal/notification"
	"alert-dispatcher/pkg/telegram"
)

// Store is the persistence the admin API needs. *db.DB satisfies it.
type Store interface {
	CreateSample(ctx context.Context, s models.AlertSample, now time.Time) (models.AlertSample, models.AlertLog, error)
	GetSample(ctx context.Context, id int64) (models.AlertSample, error)
	DeleteSample(ctx context.Context, id int64) error
	GetLog(ctx context.Context, id int64) (models.AlertLog, error)
	ListLogs(ctx context.Context, f db.LogFilter) ([]models.AlertLog, int, error)
	ActivateTestCredentials(ctx context.Context, id int64, now time.Time) error
}

// TestSender performs synchronous test sends.
type TestSender interface {
	TestSend(ctx context.Context, sampleID int64) (telegram.Result, error)
}

type Handler struct {
	store    Store
	tester   TestSender
	hub      *StatusHub
	logger   *logrus.Entry
	upgrader websocket.Upgrader
	now      func() time.Time
}

func NewHandler(store Store, tester TestSender, hub *StatusHub, logger *logrus.Entry) *Handler {
	return &Handler{
		store:  store,
		tester: tester,
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		now: time.Now,
	}
}

func (h *Handler) CreateSample(c *gin.Context) {
	var req models.SampleCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Errorf("Invalid request body for sample: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.IsRecurring {
		if _, err := notification.ParseInterval(req.RecurrenceInterval); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	now := h.now().UTC()
	start := now
	if req.StartAt != nil {
		start = req.StartAt.UTC()
	}
	if req.EndDate != nil && req.EndDate.Before(start) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end_date is before start_at"})
		return
	}

	sample, first, err := h.store.CreateSample(c.Request.Context(), models.AlertSample{
		ServiceID:          req.ServiceID,
		ConfigID:           req.ConfigID,
		UserID:             req.UserID,
		Title:              req.Title,
		Body:               req.Body,
		PhotoUpload:        req.PhotoUpload,
		DocumentUpload:     req.DocumentUpload,
		CompanyName:        req.CompanyName,
		SenderName:         req.SenderName,
		IsCommon:           req.IsCommon,
		StartAt:            start,
		EndDate:            req.EndDate,
		IsRecurring:        req.IsRecurring,
		RecurrenceInterval: req.RecurrenceInterval,
	}, now)
	if err != nil {
		h.logger.Errorf("Failed to create sample: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create sample"})
		return
	}

	h.logger.Infof("Created sample %d with first log %d due %s", sample.ID, first.ID, first.ScheduledFor.Format(time.RFC3339))
	c.JSON(http.StatusCreated, gin.H{"sample": sample, "log": first})
}

func (h *Handler) GetSample(c *gin.Context) {
	id, ok := h.idParam(c)
	if !ok {
		return
	}
	sample, err := h.store.GetSample(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err, "Sample not found", "Failed to get sample")
		return
	}
	c.JSON(http.StatusOK, sample)
}

func (h *Handler) DeleteSample(c *gin.Context) {
	id, ok := h.idParam(c)
	if !ok {
		return
	}
	if err := h.store.DeleteSample(c.Request.Context(), id); err != nil {
		h.respondError(c, err, "Sample not found", "Failed to delete sample")
		return
	}
	h.logger.Infof("Deleted sample %d", id)
	c.Status(http.StatusNoContent)
}

func (h *Handler) TestSend(c *gin.Context) {
	id, ok := h.idParam(c)
	if !ok {
		return
	}
	res, err := h.tester.TestSend(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err, "Sample or active test credentials not found", "Test send failed")
		return
	}

	status := http.StatusOK
	if !res.OK() {
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{
		"success":  res.OK(),
		"outcome":  res.Outcome.String(),
		"method":   res.Method,
		"detail":   res.Detail,
		"response": res.Response,
	})
}

func (h *Handler) ListLogs(c *gin.Context) {
	var f db.LogFilter
	if s := c.Query("status"); s != "" {
		status, err := models.ParseLogStatus(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		f.Status = status
	}
	var ok bool
	if f.Limit, ok = queryInt(c, "limit"); !ok {
		return
	}
	if f.Offset, ok = queryInt(c, "offset"); !ok {
		return
	}
	if v := c.Query("sample_id"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid sample_id"})
			return
		}
		f.SampleID = n
	}

	logs, total, err := h.store.ListLogs(c.Request.Context(), f)
	if err != nil {
		h.logger.Errorf("Failed to list logs: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list logs"})
		return
	}
	if logs == nil {
		logs = []models.AlertLog{}
	}
	c.JSON(http.StatusOK, gin.H{"items": logs, "total": total})
}

func (h *Handler) GetLog(c *gin.Context) {
	id, ok := h.idParam(c)
	if !ok {
		return
	}
	lg, err := h.store.GetLog(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err, "Log not found", "Failed to get log")
		return
	}
	c.JSON(http.StatusOK, lg)
}

func (h *Handler) ActivateTestCredentials(c *gin.Context) {
	id, ok := h.idParam(c)
	if !ok {
		return
	}
	if err := h.store.ActivateTestCredentials(c.Request.Context(), id, h.now()); err != nil {
		h.respondError(c, err, "Test credentials not found", "Failed to activate test credentials")
		return
	}
	h.logger.Infof("Activated test credentials %d", id)
	c.Status(http.StatusNoContent)
}

// WatchLogs upgrades to a WebSocket streaming log status updates, optionally
// narrowed to one sample with ?sample_id=.
func (h *Handler) WatchLogs(c *gin.Context) {
	key := allSamples
	if v := c.Query("sample_id"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid sample_id"})
			return
		}
		key = n
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	if !h.hub.AddConnection(key, conn) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many subscribers"))
		_ = conn.Close()
		return
	}
	defer func() {
		h.hub.RemoveConnection(key, conn)
		_ = conn.Close()
	}()

	// drain until the client goes away
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) idParam(c *gin.Context) (int64, bool) {
	raw := c.Param("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		h.logger.Errorf("Invalid id %s", raw)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return id, true
}

// queryInt reads an optional non-negative integer query parameter, writing a
// 400 response when it is malformed.
func queryInt(c *gin.Context, name string) (int, bool) {
	v := c.Query(name)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return 0, false
	}
	return n, true
}

func (h *Handler) respondError(c *gin.Context, err error, notFound, internal string) {
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": notFound})
		return
	}
	h.logger.Errorf("%s: %v", internal, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": internal})
}
