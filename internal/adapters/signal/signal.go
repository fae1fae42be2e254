package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicebridge/internal/app/orch"
	"github.com/dkeye/voicebridge/internal/core"
)

var ErrBackpressure = errors.New("backpressure")

// EventWSController streams pool and mixer events to websocket clients.
type EventWSController struct {
	Orch *orch.Orchestrator
}

func NewEventWSController(o *orch.Orchestrator) *EventWSController {
	return &EventWSController{Orch: o}
}

// WsSignalConn implements core.SignalConnection over a websocket.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu      sync.RWMutex
	closed  bool
	filter  Kinds
	unsubs  []func()
	dropped int
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	unsubs := c.unsubs
	c.unsubs = nil
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

func (c *WsSignalConn) kinds() Kinds {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter
}

func (c *WsSignalConn) setKinds(k Kinds) {
	c.mu.Lock()
	c.filter = k
	c.mu.Unlock()
}

var _ core.SignalConnection = (*WsSignalConn)(nil)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *EventWSController) HandleEvents(ctx context.Context, c *gin.Context) {
	token := c.GetString("client_token")
	kinds, err := sessionKinds(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	log.Info().Str("module", "signal").Str("client", token).Str("kinds", kinds.String()).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn:   ws,
		send:   make(chan core.Frame, 64),
		filter: kinds,
	}
	conn.unsubs = ctl.subscribe(token, conn)

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ctl.writePump(ctx, conn)
		cancel()
	}()
	go func() {
		ctl.readPump(ctx, token, conn)
		cancel()
	}()
}
