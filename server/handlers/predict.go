package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/san-kum/drowsiness-cv/server/models"
	"github.com/san-kum/drowsiness-cv/server/processor"
	"github.com/san-kum/drowsiness-cv/server/session"
	"go.uber.org/zap"
)

const SessionHeader = "X-Session-ID"

type PredictHandler struct {
	processor *processor.FrameProcessor
	logger    *zap.Logger
}

type PredictRequest struct {
	Image     string `json:"image" binding:"required"`
	SessionID string `json:"session_id" binding:"omitempty,max=128"`
	Timestamp int64  `json:"timestamp"`
}

func NewPredictHandler(processor *processor.FrameProcessor, logger *zap.Logger) *PredictHandler {
	return &PredictHandler{
		processor: processor,
		logger:    logger,
	}
}

// Predict classifies one frame. The body is {"image": "<base64>"}; the
// response is the bare classification result.
func (h *PredictHandler) Predict(c *gin.Context) {
	var request PredictRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		h.logger.Warn("Invalid request format", zap.Error(err))
		respondBadRequest(c, "request body must be a JSON object with an image field")
		return
	}

	imageData, err := processor.DecodeImage(request.Image)
	if err != nil {
		respondError(c, err)
		return
	}

	sessionID := request.SessionID
	if sessionID == "" {
		sessionID = c.GetHeader(SessionHeader)
	}

	frameRequest := &models.FrameRequest{
		ImageData: imageData,
		Timestamp: request.Timestamp,
		ClientID:  c.ClientIP(),
		SessionID: sessionID,
	}

	result, err := h.processor.ProcessFrame(c.Request.Context(), frameRequest)
	if err != nil {
		h.logger.Error("Frame processing failed",
			zap.Error(err),
			zap.String("client_ip", c.ClientIP()))
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *PredictHandler) GetStats(c *gin.Context) {
	stats := h.processor.GetStats()

	var successRate, errorRate float64
	if stats.TotalProcessed > 0 {
		successRate = float64(stats.SuccessfullyProcessed) / float64(stats.TotalProcessed) * 100
		errorRate = float64(stats.FailedProcessed) / float64(stats.TotalProcessed) * 100
	}

	c.JSON(http.StatusOK, gin.H{
		"processor": stats,
		"metrics": gin.H{
			"success_rate":   successRate,
			"error_rate":     errorRate,
			"uptime_seconds": time.Since(stats.StartTime).Seconds(),
		},
	})
}

func (h *PredictHandler) ModelInfo(c *gin.Context) {
	c.JSON(http.StatusOK, h.processor.ModelInfo())
}

func (h *PredictHandler) GetSession(c *gin.Context) {
	summary, err := h.processor.Sessions().Summary(c.Request.Context(), c.Param("id"))
	if err != nil {
		if !errors.Is(err, session.ErrSessionNotFound) {
			h.logger.Error("Failed to load session", zap.Error(err))
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

func (h *PredictHandler) ResetSession(c *gin.Context) {
	if err := h.processor.Sessions().Reset(c.Request.Context(), c.Param("id")); err != nil {
		h.logger.Error("Failed to reset session", zap.Error(err))
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *PredictHandler) CacheStats(c *gin.Context) {
	stats, err := h.processor.GetCacheStats(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to read cache stats", zap.Error(err))
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}
