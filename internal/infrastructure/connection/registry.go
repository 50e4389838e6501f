package connection

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Conn is the part of a websocket connection the registry needs
type Conn interface {
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// ShutdownReason is sent with the close frame when the server drains
const ShutdownReason = "Server shutdown"

// Registry tracks the live client connections of this process so they can
// be closed cleanly at shutdown
type Registry struct {
	mu     sync.Mutex
	conns  map[string]Conn
	logger *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		conns:  make(map[string]Conn),
		logger: logger,
	}
}

// Add registers a connection under clientID, replacing and closing any
// previous connection with the same id
func (r *Registry) Add(clientID string, conn Conn) {
	r.mu.Lock()
	prev, exists := r.conns[clientID]
	r.conns[clientID] = conn
	r.mu.Unlock()

	if exists && prev != conn {
		r.logger.Warn("replacing existing connection", zap.String("client_id", clientID))
		_ = prev.Close()
	}
}

// Remove unregisters clientID if it still maps to conn
func (r *Registry) Remove(clientID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.conns[clientID]; ok && cur == conn {
		delete(r.conns, clientID)
	}
}

// Len returns the number of registered connections
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Drain sends a going-away close frame to every connection and closes it.
// Returns the number of connections drained.
func (r *Registry) Drain(timeout time.Duration) int {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]Conn)
	r.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, ShutdownReason)
	deadline := time.Now().Add(timeout)
	for id, c := range conns {
		if err := c.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			r.logger.Debug("close frame not delivered", zap.String("client_id", id), zap.Error(err))
		}
		_ = c.Close()
	}

	if len(conns) > 0 {
		r.logger.Info("connections drained", zap.Int("count", len(conns)))
	}
	return len(conns)
}
