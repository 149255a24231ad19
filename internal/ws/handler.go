// Package ws bridges Echo/gorilla websocket connections to the controller.
// Each accepted connection gets a socket ID and a wsTransport adapter; inbound
// frames are decoded as protocol.Message and handed to Controller.Dispatch,
// outbound frames are written from the per-connection send loop started by
// wsTransport.Send.
package ws

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/openvocs/vocsd/internal/protocol"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const writeTimeout = 5 * time.Second

// Controller is the subset of controller.Controller the transport needs,
// narrowed so this package does not import controller directly (avoiding an
// import cycle risk and keeping the websocket plumbing testable against a
// fake dispatcher).
type Controller interface {
	Connect(socket string, tr Transport)
	Dispatch(socket string, msg protocol.Message)
	Drop(socket string)
}

// Transport mirrors controller.Transport: one outbound write plus close.
type Transport interface {
	Send(msg any) error
	Close() error
}

// Handler owns websocket transport for the session controller.
type Handler struct {
	ctrl     Controller
	upgrader websocket.Upgrader
}

// NewHandler creates a websocket handler bound to ctrl.
func NewHandler(ctrl Controller) *Handler {
	return &Handler{
		ctrl: ctrl,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
}

// Register binds the websocket route on an Echo router.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/ws", h.HandleWebSocket)
}

// HandleWebSocket upgrades one request and serves it until disconnect.
func (h *Handler) HandleWebSocket(c echo.Context) error {
	remoteAddr := c.RealIP()
	slog.Debug("ws upgrade request", "remote", remoteAddr)

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error("ws upgrade failed", "remote", remoteAddr, "err", err)
		return fmt.Errorf("upgrade websocket: %w", err)
	}
	h.serveConn(conn, remoteAddr)
	return nil
}

func (h *Handler) serveConn(conn *websocket.Conn, remoteAddr string) {
	socket := uuid.NewString()
	tr := newWSTransport(conn)

	h.ctrl.Connect(socket, tr)
	slog.Info("ws connected", "socket", socket, "remote", remoteAddr)

	defer func() {
		h.ctrl.Drop(socket)
		tr.stop()
		slog.Info("ws disconnected", "socket", socket, "remote", remoteAddr)
	}()

	_ = conn.SetReadDeadline(time.Time{})
	conn.SetReadLimit(1 << 20)

	for {
		var in protocol.Message
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("ws unexpected close", "socket", socket, "err", err)
			}
			return
		}
		slog.Debug("ws recv", "socket", socket, "event", in.Event, "id", in.ID)
		h.ctrl.Dispatch(socket, in)
	}
}

// wsTransport adapts a *websocket.Conn into controller.Transport. Writes run
// on a dedicated goroutine fed by an outbound queue, so Dispatch callbacks
// (which may run on arbitrary goroutines, e.g. a directory bind callback)
// never write to the connection directly.
type wsTransport struct {
	conn    *websocket.Conn
	outbox  chan any
	closeCh chan struct{}
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	t := &wsTransport{
		conn:    conn,
		outbox:  make(chan any, 64),
		closeCh: make(chan struct{}),
	}
	go t.writeLoop()
	return t
}

func (t *wsTransport) writeLoop() {
	defer t.conn.Close()
	for {
		select {
		case msg, ok := <-t.outbox:
			if !ok {
				return
			}
			_ = t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := t.conn.WriteJSON(msg); err != nil {
				slog.Debug("ws write error", "err", err)
				return
			}
		case <-t.closeCh:
			return
		}
	}
}

// Send queues msg for delivery; it never blocks the caller on network I/O.
func (t *wsTransport) Send(msg any) error {
	select {
	case <-t.closeCh:
		return fmt.Errorf("transport closed")
	default:
	}
	select {
	case t.outbox <- msg:
		return nil
	case <-t.closeCh:
		return fmt.Errorf("transport closed")
	}
}

// Close tears down the underlying connection.
func (t *wsTransport) Close() error {
	t.stop()
	return t.conn.Close()
}

func (t *wsTransport) stop() {
	select {
	case <-t.closeCh:
	default:
		close(t.closeCh)
	}
}
