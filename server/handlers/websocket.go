package handlers

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/san-kum/rep-integrity/server/processor"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// WebSocketHandler pushes job progress to subscribed clients.
type WebSocketHandler struct {
	processor *processor.Processor
	logger    *zap.Logger
	upgrader  websocket.Upgrader
}

type ClientMessage struct {
	Type  string `json:"type"`
	JobID string `json:"job_id,omitempty"`
}

type ServerMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func NewWebSocketHandler(p *processor.Processor, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		processor: p,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	conn   *websocket.Conn
	mutex  sync.Mutex
	logger *zap.Logger
}

func (w *wsConn) send(messageType string, data any) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := w.conn.WriteJSON(ServerMessage{Type: messageType, Data: data}); err != nil {
		w.logger.Error("Failed to send WebSocket message", zap.Error(err))
		return err
	}
	return nil
}

func (w *wsConn) sendError(errorMsg string) {
	w.send("error", map[string]any{
		"message":   errorMsg,
		"timestamp": time.Now().Unix(),
	})
}

func (w *wsConn) ping() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.PingMessage, nil)
}

func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket connection", zap.Error(err))
		return
	}
	defer conn.Close()

	clientIP := c.ClientIP()
	h.logger.Info("WebSocket client connected", zap.String("client_ip", clientIP))

	conn.SetReadLimit(64 * 1024)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ws := &wsConn{conn: conn, logger: h.logger}
	done := make(chan struct{})
	var wg sync.WaitGroup
	defer func() {
		close(done)
		wg.Wait()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.pingRoutine(ws, done)
	}()

	for {
		var message ClientMessage
		if err := conn.ReadJSON(&message); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("WebSocket error", zap.Error(err), zap.String("client_ip", clientIP))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		h.handleMessage(ws, &message, done, &wg)
	}
}

func (h *WebSocketHandler) handleMessage(ws *wsConn, message *ClientMessage, done <-chan struct{}, wg *sync.WaitGroup) {
	switch message.Type {
	case "subscribe":
		h.subscribe(ws, message.JobID, done, wg)
	case "ping":
		ws.send("pong", map[string]any{"timestamp": time.Now().Unix()})
	default:
		h.logger.Warn("Unknown message type received", zap.String("type", message.Type))
		ws.sendError("Unknown message type: " + message.Type)
	}
}

func (h *WebSocketHandler) subscribe(ws *wsConn, jobID string, done <-chan struct{}, wg *sync.WaitGroup) {
	events, cancel, err := h.processor.Subscribe(jobID)
	if err != nil {
		if errors.Is(err, processor.ErrJobNotFound) {
			ws.sendError("Job not found: " + jobID)
			return
		}
		ws.sendError("Subscription failed")
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()

		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				if ev.Status.Done() {
					// The final update carries the full job so clients need
					// no extra round trip for the result.
					if job, err := h.processor.GetJob(jobID); err == nil {
						ws.send("job_update", job)
						continue
					}
				}
				if ws.send("job_update", ev) != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()
}

func (h *WebSocketHandler) pingRoutine(ws *wsConn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := ws.ping(); err != nil {
				h.logger.Error("Failed to send ping", zap.Error(err))
				return
			}
		case <-done:
			return
		}
	}
}
