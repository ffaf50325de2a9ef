package api

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"alert-dispatcher/internal/models"
)

const (
	maxConnsPerKey = 10
	writeWait      = 5 * time.Second
	sendBuffer     = 16
	allSamples     = int64(0)
)

// subscriber owns the only goroutine that writes to its connection.
type subscriber struct {
	key  int64
	conn *websocket.Conn
	send chan []byte
}

// StatusHub fans log status updates out to WebSocket subscribers, keyed by
// sample id. Key 0 receives every update. Publish never blocks on a socket.
type StatusHub struct {
	connections map[int64]map[*websocket.Conn]*subscriber
	mutex       sync.Mutex
	logger      *logrus.Entry
}

func NewStatusHub(logger *logrus.Entry) *StatusHub {
	return &StatusHub{
		connections: make(map[int64]map[*websocket.Conn]*subscriber),
		logger:      logger,
	}
}

// AddConnection registers conn for sampleID and starts its writer. It
// reports false when the key already has the maximum number of subscribers.
func (h *StatusHub) AddConnection(sampleID int64, conn *websocket.Conn) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if _, exists := h.connections[sampleID]; !exists {
		h.connections[sampleID] = make(map[*websocket.Conn]*subscriber)
	}
	if len(h.connections[sampleID]) >= maxConnsPerKey {
		h.logger.Warnf("Max connections reached for sample key %d", sampleID)
		return false
	}
	sub := &subscriber{key: sampleID, conn: conn, send: make(chan []byte, sendBuffer)}
	h.connections[sampleID][conn] = sub
	go h.writer(sub)
	h.logger.Infof("Added WebSocket subscriber for sample key %d (total: %d)", sampleID, len(h.connections[sampleID]))
	return true
}

func (h *StatusHub) RemoveConnection(sampleID int64, conn *websocket.Conn) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.removeLocked(sampleID, conn)
}

func (h *StatusHub) removeLocked(sampleID int64, conn *websocket.Conn) {
	conns, exists := h.connections[sampleID]
	if !exists {
		return
	}
	sub, ok := conns[conn]
	if !ok {
		return
	}
	delete(conns, conn)
	close(sub.send)
	if len(conns) == 0 {
		delete(h.connections, sampleID)
	}
	h.logger.Infof("Removed WebSocket subscriber for sample key %d (remaining: %d)", sampleID, len(conns))
}

// writer drains sub.send until the subscriber is removed or a write fails.
func (h *StatusHub) writer(sub *subscriber) {
	for message := range sub.send {
		_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := sub.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			h.logger.Errorf("Failed to send WebSocket message for sample key %d: %v", sub.key, err)
			h.RemoveConnection(sub.key, sub.conn)
			_ = sub.conn.Close()
			return
		}
	}
}

// Publish queues update for subscribers of its sample and for catch-all
// subscribers. A subscriber whose buffer is full misses the update.
func (h *StatusHub) Publish(update models.LogStatusUpdate) {
	message, err := json.Marshal(update)
	if err != nil {
		h.logger.Errorf("Failed to encode status update for log %d: %v", update.LogID, err)
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.queueLocked(allSamples, message)
	if update.SampleID != allSamples {
		h.queueLocked(update.SampleID, message)
	}
}

func (h *StatusHub) queueLocked(key int64, message []byte) {
	for _, sub := range h.connections[key] {
		select {
		case sub.send <- message:
		default:
			h.logger.Warnf("WebSocket subscriber for sample key %d is too slow, dropping update", key)
		}
	}
}

func (h *StatusHub) subscriberCount(key int64) int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.connections[key])
}
