package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/san-kum/drowsiness-cv/server/metrics"
	"github.com/san-kum/drowsiness-cv/server/middleware"
	"github.com/san-kum/drowsiness-cv/server/models"
	"github.com/san-kum/drowsiness-cv/server/processor"
	"github.com/san-kum/drowsiness-cv/server/session"
	"go.uber.org/zap"
)

const (
	pongWait     = 60 * time.Second
	pingPeriod   = 54 * time.Second
	writeWait    = 10 * time.Second
	maxFrameSize = 10 * 1024 * 1024

	// frames waiting behind the one being classified
	maxPendingFrames = 4
)

type WebSocketHandler struct {
	processor   *processor.FrameProcessor
	rateLimiter *middleware.RateLimiter
	metrics     *metrics.Metrics
	logger      *zap.Logger
	upgrader    websocket.Upgrader
}

type ClientMessage struct {
	Type      string `json:"type"`
	Data      string `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

type ServerMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type PredictionMessage struct {
	*models.ClassificationResult
	Timestamp int64 `json:"timestamp,omitempty"`
}

// wsClient serializes writes; gorilla connections allow one writer at a time.
// Frames are classified one by one in arrival order so the session window
// sees statuses in frame order.
type wsClient struct {
	conn      *websocket.Conn
	sessionID string
	clientIP  string
	writeMu   sync.Mutex
	frames    chan *models.FrameRequest
}

func NewWebSocketHandler(processor *processor.FrameProcessor, rateLimiter *middleware.RateLimiter, m *metrics.Metrics, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		processor:   processor,
		rateLimiter: rateLimiter,
		metrics:     m,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWebSocket streams frames from one camera. The session defaults to a
// fresh UUID unless the client passes ?session_id=.
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket connection", zap.Error(err))
		return
	}
	defer conn.Close()

	client := &wsClient{
		conn:      conn,
		sessionID: c.Query("session_id"),
		clientIP:  c.ClientIP(),
		frames:    make(chan *models.FrameRequest, maxPendingFrames),
	}
	if client.sessionID == "" {
		client.sessionID = uuid.NewString()
	}

	if h.metrics != nil {
		h.metrics.ClientConnected()
		defer h.metrics.ClientDisconnected()
	}

	h.logger.Info("WebSocket client connected",
		zap.String("client_ip", client.clientIP),
		zap.String("session_id", client.sessionID))

	ctx, cancel := context.WithCancel(context.Background())
	frameLoopDone := make(chan struct{})
	defer func() {
		cancel()
		close(client.frames)
		<-frameLoopDone
	}()

	go func() {
		defer close(frameLoopDone)
		h.frameLoop(ctx, client)
	}()

	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go h.pingRoutine(ctx, client)

	h.send(client, "session", gin.H{"session_id": client.sessionID})

	for {
		var message ClientMessage
		if err := conn.ReadJSON(&message); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}
		h.handleMessage(ctx, client, &message)
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, client *wsClient, message *ClientMessage) {
	switch message.Type {
	case "frame":
		h.processFrame(client, message)
	case "ping":
		h.send(client, "pong", gin.H{"timestamp": time.Now().Unix()})
	case "status":
		h.sendSession(ctx, client)
	default:
		h.logger.Warn("Unknown message type received", zap.String("type", message.Type))
		h.sendError(client, errors.New("unknown message type: "+message.Type), "unknown_message")
	}
}

func (h *WebSocketHandler) processFrame(client *wsClient, message *ClientMessage) {
	if h.rateLimiter != nil && !h.rateLimiter.Allow(client.clientIP) {
		h.sendError(client, errors.New("rate limit exceeded"), "rate_limited")
		return
	}

	imageData, err := processor.DecodeImage(message.Data)
	if err != nil {
		h.sendProcessingError(client, err)
		return
	}

	frameRequest := &models.FrameRequest{
		ImageData: imageData,
		Timestamp: message.Timestamp,
		ClientID:  client.clientIP,
		SessionID: client.sessionID,
	}

	select {
	case client.frames <- frameRequest:
	default:
		h.sendError(client, errors.New("too many frames pending, frame dropped"), "busy")
	}
}

func (h *WebSocketHandler) frameLoop(ctx context.Context, client *wsClient) {
	for frameRequest := range client.frames {
		if ctx.Err() != nil {
			continue
		}

		result, err := h.processor.ProcessFrame(ctx, frameRequest)
		if err != nil {
			h.logger.Error("Frame processing failed",
				zap.Error(err),
				zap.String("session_id", client.sessionID))
			h.sendProcessingError(client, err)
			continue
		}

		h.send(client, "prediction", PredictionMessage{
			ClassificationResult: result,
			Timestamp:            frameRequest.Timestamp,
		})
	}
}

func (h *WebSocketHandler) sendSession(ctx context.Context, client *wsClient) {
	summary, err := h.processor.Sessions().Summary(ctx, client.sessionID)
	if errors.Is(err, session.ErrSessionNotFound) {
		summary = &models.SessionSummary{
			SessionID:      client.sessionID,
			DominantStatus: models.StatusAlert,
			Counts:         map[string]int{},
			History:        []string{},
		}
	} else if err != nil {
		h.sendProcessingError(client, err)
		return
	}

	h.send(client, "session", summary)
}

func (h *WebSocketHandler) send(client *wsClient, messageType string, data any) {
	client.writeMu.Lock()
	defer client.writeMu.Unlock()

	client.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := client.conn.WriteJSON(ServerMessage{Type: messageType, Data: data}); err != nil {
		h.logger.Debug("Failed to send WebSocket message", zap.Error(err))
	}
}

func (h *WebSocketHandler) sendProcessingError(client *wsClient, err error) {
	_, apiErr := ErrorFor(err)
	h.send(client, "error", apiErr)
}

func (h *WebSocketHandler) sendError(client *wsClient, err error, code string) {
	h.send(client, "error", models.APIError{Code: code, Message: err.Error()})
}

func (h *WebSocketHandler) pingRoutine(ctx context.Context, client *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			client.writeMu.Lock()
			err := client.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			client.writeMu.Unlock()
			if err != nil {
				h.logger.Debug("Failed to send ping", zap.Error(err))
				client.conn.Close()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
