package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"telemetry-dashboard/internal/alert"
	"telemetry-dashboard/internal/buffer"
	"telemetry-dashboard/internal/metrics"
	"telemetry-dashboard/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	alertQueueSize = 8
)

// Типы сообщений живого потока
const (
	MessageHello    = "hello"
	MessageAppended = "appended"
	MessageReset    = "reset"
	MessageAlert    = "alert"
)

// LiveMessage сообщение браузеру по /ws/live
type LiveMessage struct {
	Type   string         `json:"type"`
	Len    int            `json:"len"`
	Record *models.Record `json:"record,omitempty"`
	Alert  *alert.Alert   `json:"alert,omitempty"`
}

type liveClient struct {
	conn   *websocket.Conn
	alerts chan alert.Alert
	quit   chan struct{}
	once   sync.Once
}

func (c *liveClient) stop() {
	c.once.Do(func() { close(c.quit) })
}

// Hub раздает изменения буфера и оповещения подключенным браузерам.
// Реализует alert.Notifier.
type Hub struct {
	buffer   *buffer.Buffer
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*liveClient]struct{}
	closed  bool
	wg      sync.WaitGroup
}

// NewHub создает концентратор живого потока
func NewHub(buf *buffer.Buffer, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		buffer: buf,
		logger: logger.With("component", "live"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*liveClient]struct{}),
	}
}

// ServeHTTP обрабатывает GET /ws/live
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade уже ответил клиенту
		h.logger.Warn("live upgrade failed", "error", err)
		return
	}

	client := &liveClient{
		conn:   conn,
		alerts: make(chan alert.Alert, alertQueueSize),
		quit:   make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[client] = struct{}{}
	metrics.LiveClients.Set(float64(len(h.clients)))
	h.wg.Add(2)
	h.mu.Unlock()

	go h.readPump(client)
	go h.writePump(client)
}

// Notify рассылает оповещение всем клиентам, медленные клиенты его теряют
func (h *Hub) Notify(_ context.Context, a alert.Alert) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.alerts <- a:
		default:
		}
	}
	return nil
}

// Clients количество подключенных клиентов
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close отключает всех клиентов и ждет завершения их горутин
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		c.stop()
	}
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *Hub) remove(c *liveClient) {
	h.mu.Lock()
	delete(h.clients, c)
	metrics.LiveClients.Set(float64(len(h.clients)))
	h.mu.Unlock()
}

// readPump только отслеживает закрытие и pong, входящие сообщения игнорируются
func (h *Hub) readPump(c *liveClient) {
	defer h.wg.Done()
	defer c.stop()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump единственный писатель в соединение
func (h *Hub) writePump(c *liveClient) {
	defer h.wg.Done()
	defer h.remove(c)
	defer c.conn.Close()

	events, unsubscribe := h.buffer.Subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	hello := LiveMessage{Type: MessageHello, Len: h.buffer.Len()}
	if rec, ok := h.buffer.Current(); ok {
		hello.Record = &rec
	}
	if err := h.write(c, hello); err != nil {
		return
	}

	for {
		var msg LiveMessage
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			msg = LiveMessage{Type: MessageAppended, Len: ev.Len}
			if ev.Kind == buffer.EventReset {
				msg.Type = MessageReset
			} else {
				rec := ev.Record
				msg.Record = &rec
			}
		case a := <-c.alerts:
			msg = LiveMessage{Type: MessageAlert, Alert: &a}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		case <-c.quit:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		}

		if err := h.write(c, msg); err != nil {
			h.logger.Debug("live client write failed", "error", err)
			return
		}
	}
}

func (h *Hub) write(c *liveClient, msg LiveMessage) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}
