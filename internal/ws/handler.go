package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/exokit-os/exocore/internal/kernel"
	"github.com/exokit-os/exocore/internal/logging"
	"github.com/exokit-os/exocore/internal/monitoring"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // introspection surface, perimeter enforced upstream
	},
}

const writeWait = 5 * time.Second

// Handler fans kernel events out to WebSocket clients.
type Handler struct {
	log     *logging.Logger
	metrics *monitoring.Metrics

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewHandler creates a handler and starts the broadcast loop over the
// kernel's event stream. The metrics collector may be nil.
func NewHandler(k *kernel.Kernel, log *logging.Logger, metrics *monitoring.Metrics) *Handler {
	h := &Handler{
		log:     log,
		metrics: metrics,
		clients: make(map[*websocket.Conn]struct{}),
	}
	go h.broadcast(k.Events())
	return h
}

func (h *Handler) broadcast(events <-chan kernel.Event) {
	for ev := range events {
		h.mu.Lock()
		for conn := range h.clients {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				h.dropLocked(conn)
			}
		}
		h.mu.Unlock()
	}
}

func (h *Handler) dropLocked(conn *websocket.Conn) {
	if _, ok := h.clients[conn]; !ok {
		return
	}
	delete(h.clients, conn)
	conn.Close()
	if h.metrics != nil {
		h.metrics.DecStreamConnections()
	}
}

// HandleConnection upgrades the request and subscribes the client to the
// event stream until it disconnects.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.IncStreamConnections()
	}

	// Read loop only consumes control frames; the stream is one-way.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	h.mu.Lock()
	h.dropLocked(conn)
	h.mu.Unlock()
}
