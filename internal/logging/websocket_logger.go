package logging

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"keyrelay-go/internal/constants"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// ErrMaxConnectionsReached is returned by AddClient when the broadcaster is full.
var ErrMaxConnectionsReached = errors.New("maximum WebSocket connections reached")

// LogMessage represents one broadcast log line.
type LogMessage struct {
	ID        uint64                 `json:"id,omitempty"`
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// WSLogger broadcasts log messages to connected WebSocket clients and keeps a
// bounded replay history for late joiners (admin live tail).
type WSLogger struct {
	mu             sync.RWMutex
	clients        map[*websocket.Conn]time.Time // conn -> last activity
	broadcast      chan LogMessage
	stopCh         chan struct{}
	historyMu      sync.RWMutex
	history        []LogMessage
	seq            uint64
	historyCap     int
	maxConnections int
	idleTimeout    time.Duration
}

var (
	globalWSLogger *WSLogger
	wsLoggerOnce   sync.Once
)

// GetWSLogger returns the process-wide broadcaster, starting it on first use.
func GetWSLogger() *WSLogger {
	wsLoggerOnce.Do(func() {
		globalWSLogger = &WSLogger{
			clients:        make(map[*websocket.Conn]time.Time),
			broadcast:      make(chan LogMessage, constants.WSLogBufferSize),
			stopCh:         make(chan struct{}),
			history:        make([]LogMessage, 0, 500),
			historyCap:     500,
			maxConnections: 100,
			idleTimeout:    30 * time.Minute,
		}
		globalWSLogger.start()
	})
	return globalWSLogger
}

func (wsl *WSLogger) start() {
	go func() {
		for {
			select {
			case msg := <-wsl.broadcast:
				wsl.mu.RLock()
				conns := make([]*websocket.Conn, 0, len(wsl.clients))
				for conn := range wsl.clients {
					conns = append(conns, conn)
					wsl.clients[conn] = time.Now()
				}
				wsl.mu.RUnlock()
				for _, conn := range conns {
					if err := conn.WriteJSON(msg); err != nil {
						wsl.RemoveClient(conn)
					}
				}
			case <-wsl.stopCh:
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(2 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				wsl.dropIdle()
			case <-wsl.stopCh:
				return
			}
		}
	}()
}

// AddClient registers a WebSocket client for broadcast.
func (wsl *WSLogger) AddClient(conn *websocket.Conn) error {
	wsl.mu.Lock()
	defer wsl.mu.Unlock()
	if len(wsl.clients) >= wsl.maxConnections {
		return ErrMaxConnectionsReached
	}
	wsl.clients[conn] = time.Now()
	return nil
}

// RemoveClient unregisters and closes a WebSocket client.
func (wsl *WSLogger) RemoveClient(conn *websocket.Conn) {
	wsl.mu.Lock()
	defer wsl.mu.Unlock()
	if _, exists := wsl.clients[conn]; exists {
		delete(wsl.clients, conn)
		conn.Close()
	}
}

func (wsl *WSLogger) dropIdle() {
	wsl.mu.Lock()
	defer wsl.mu.Unlock()
	now := time.Now()
	for conn, last := range wsl.clients {
		if now.Sub(last) > wsl.idleTimeout {
			delete(wsl.clients, conn)
			conn.Close()
		}
	}
}

// ConnectionCount returns the current number of connected clients.
func (wsl *WSLogger) ConnectionCount() int {
	wsl.mu.RLock()
	defer wsl.mu.RUnlock()
	return len(wsl.clients)
}

// BroadcastLog queues a log line for broadcast; drops it when the queue is full.
func (wsl *WSLogger) BroadcastLog(level, message string, fields map[string]interface{}) {
	msg := LogMessage{
		ID:        atomic.AddUint64(&wsl.seq, 1),
		Timestamp: time.Now().Format(time.RFC3339),
		Level:     level,
		Message:   message,
		Fields:    fields,
	}
	wsl.appendHistory(msg)
	select {
	case wsl.broadcast <- msg:
	default:
	}
}

func (wsl *WSLogger) appendHistory(msg LogMessage) {
	wsl.historyMu.Lock()
	defer wsl.historyMu.Unlock()
	wsl.history = append(wsl.history, msg)
	if len(wsl.history) > wsl.historyCap {
		excess := len(wsl.history) - wsl.historyCap
		wsl.history = append([]LogMessage(nil), wsl.history[excess:]...)
	}
}

// FetchSince returns log messages newer than the provided cursor ID.
func (wsl *WSLogger) FetchSince(cursor uint64, limit int) ([]LogMessage, uint64) {
	wsl.historyMu.RLock()
	defer wsl.historyMu.RUnlock()

	if limit <= 0 || limit > wsl.historyCap {
		limit = wsl.historyCap
	}
	out := make([]LogMessage, 0, limit)
	next := cursor
	for _, msg := range wsl.history {
		if msg.ID <= cursor {
			continue
		}
		out = append(out, msg)
		next = msg.ID
		if len(out) >= limit {
			break
		}
	}
	return out, next
}

// logrusHook forwards every logrus entry to the broadcaster.
type logrusHook struct {
	wsLogger *WSLogger
}

func (hook *logrusHook) Levels() []log.Level {
	return log.AllLevels
}

func (hook *logrusHook) Fire(entry *log.Entry) error {
	fields := make(map[string]interface{}, len(entry.Data))
	for k, v := range entry.Data {
		fields[k] = v
	}
	hook.wsLogger.BroadcastLog(entry.Level.String(), entry.Message, fields)
	return nil
}

// InstallWebSocketLogging attaches the broadcaster hook to the global logger.
func InstallWebSocketLogging() {
	log.AddHook(&logrusHook{wsLogger: GetWSLogger()})
}
