package processor

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/san-kum/drowsiness-cv/server/cache"
	"github.com/san-kum/drowsiness-cv/server/features"
	"github.com/san-kum/drowsiness-cv/server/metrics"
	"github.com/san-kum/drowsiness-cv/server/ml"
	"github.com/san-kum/drowsiness-cv/server/models"
	"github.com/san-kum/drowsiness-cv/server/session"
	"go.uber.org/zap"
)

var (
	ErrInvalidImage      = errors.New("invalid image data")
	ErrDetector          = errors.New("landmark detection failed")
	ErrQueueFull         = errors.New("processing queue full, try again later")
	ErrProcessingTimeout = errors.New("processing timeout")
)

// Detector finds the landmarks of the first face in an encoded image.
type Detector interface {
	Detect(ctx context.Context, image []byte) (models.LandmarkSet, bool, error)
}

type FrameProcessor struct {
	detector  Detector
	artifacts *ml.Artifacts
	logger    *zap.Logger
	queue     *ProcessingQueue
	config    *ProcessorConfig
	cache     cache.Cache
	sessions  *session.Tracker
	metrics   *metrics.Metrics

	statsMutex sync.Mutex
	stats      ProcessorStats
}

type ProcessorStats struct {
	StartTime             time.Time  `json:"start_time"`
	TotalProcessed        int64      `json:"total_processed"`
	SuccessfullyProcessed int64      `json:"successfully_processed"`
	FailedProcessed       int64      `json:"failed_processed"`
	NoFaceFrames          int64      `json:"no_face_frames"`
	CacheHits             int64      `json:"cache_hits"`
	AverageLatency        float64    `json:"average_latency_ms"`
	Queue                 QueueStats `json:"queue"`
}

type ProcessorConfig struct {
	MaxQueueSize      int
	MaxWorkers        int
	ProcessingTimeout time.Duration
	CacheResults      bool
}

type Dependencies struct {
	Detector  Detector
	Artifacts *ml.Artifacts
	Cache     cache.Cache
	Sessions  *session.Tracker
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

func NewFrameProcessor(deps Dependencies, config *ProcessorConfig) *FrameProcessor {
	fp := &FrameProcessor{
		detector:  deps.Detector,
		artifacts: deps.Artifacts,
		logger:    deps.Logger,
		config:    config,
		cache:     deps.Cache,
		sessions:  deps.Sessions,
		metrics:   deps.Metrics,
		stats: ProcessorStats{
			StartTime: time.Now(),
		},
	}

	fp.queue = NewProcessingQueue(config.MaxQueueSize, config.MaxWorkers, fp.processItem)

	if fp.metrics != nil {
		fp.metrics.RegisterGaugeFunc("drowsiness_queue_size", "Frames waiting for a worker",
			func() float64 { return float64(fp.queue.Size()) })
	}

	return fp
}

// ProcessFrame classifies one frame through the worker pool, consulting the
// result cache first and recording the outcome in the caller's session.
// The worker runs under the same ProcessingTimeout deadline as the caller.
func (fp *FrameProcessor) ProcessFrame(ctx context.Context, request *models.FrameRequest) (*models.ClassificationResult, error) {
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(ctx, fp.config.ProcessingTimeout)
	defer cancel()

	fp.addStats(func(s *ProcessorStats) { s.TotalProcessed++ })

	cacheKey := cache.GenerateCacheKey("frame", fp.artifacts.Version, frameHash(request.ImageData))

	if result, ok := fp.cachedResult(ctx, cacheKey); ok {
		fp.finish(ctx, request, result, startTime, true)
		return result, nil
	}

	resultChan := make(chan *ProcessingResult, 1)
	item := &QueueItem{
		Ctx:        ctx,
		Request:    request,
		ResultChan: resultChan,
		StartTime:  startTime,
	}

	if !fp.queue.Enqueue(item) {
		fp.fail(ErrQueueFull)
		return nil, ErrQueueFull
	}

	select {
	case outcome := <-resultChan:
		if outcome.Error != nil {
			err := timeoutError(outcome.Error)
			fp.fail(err)
			return nil, err
		}

		if fp.config.CacheResults && fp.cache != nil {
			if err := fp.cache.Set(ctx, cacheKey, outcome.Result); err != nil {
				fp.logger.Warn("Failed to cache result", zap.Error(err))
			}
		}

		fp.finish(ctx, request, outcome.Result, startTime, false)
		return outcome.Result, nil

	case <-ctx.Done():
		err := timeoutError(ctx.Err())
		fp.fail(err)
		return nil, err
	}
}

func timeoutError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrProcessingTimeout) {
		return fmt.Errorf("%w: %w", ErrProcessingTimeout, err)
	}
	return err
}

func (fp *FrameProcessor) processItem(item *QueueItem) *ProcessingResult {
	result, err := fp.Analyze(item.Ctx, item.Request.ImageData)
	if err != nil {
		fp.logger.Error("Frame analysis failed",
			zap.Error(err),
			zap.String("client_id", item.Request.ClientID))
		return &ProcessingResult{Error: err}
	}
	return &ProcessingResult{Result: result}
}

// Analyze runs detection, feature extraction and classification for a single
// decoded image. It is the synchronous core used by the workers and by the
// one-shot stdin mode.
func (fp *FrameProcessor) Analyze(ctx context.Context, image []byte) (*models.ClassificationResult, error) {
	return Analyze(ctx, fp.detector, fp.artifacts, fp.metrics, image)
}

func Analyze(ctx context.Context, detector Detector, artifacts *ml.Artifacts, m *metrics.Metrics, image []byte) (*models.ClassificationResult, error) {
	stage := time.Now()
	landmarks, found, err := detector.Detect(ctx, image)
	observe(m, "detect", stage)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDetector, err)
	}
	if !found {
		return models.NoFace(), nil
	}

	stage = time.Now()
	vector, err := features.Extract(landmarks)
	observe(m, "extract", stage)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.ObserveFeatures(vector.LeftEAR(), vector.RightEAR(), vector.AvgEAR(), vector.Pitch())
	}

	stage = time.Now()
	label, confidence, err := ml.Classify(vector, artifacts)
	observe(m, "classify", stage)
	if err != nil {
		return nil, err
	}

	return models.Classified(label, confidence), nil
}

func observe(m *metrics.Metrics, stage string, start time.Time) {
	if m != nil {
		m.ObserveStage(stage, time.Since(start))
	}
}

func (fp *FrameProcessor) cachedResult(ctx context.Context, key string) (*models.ClassificationResult, bool) {
	if !fp.config.CacheResults || fp.cache == nil {
		return nil, false
	}

	var result models.ClassificationResult
	if err := fp.cache.Get(ctx, key, &result); err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			fp.logger.Warn("Failed to read result cache", zap.Error(err))
		}
		return nil, false
	}

	fp.logger.Debug("Cache hit for frame", zap.String("key", key))
	return &result, true
}

func (fp *FrameProcessor) finish(ctx context.Context, request *models.FrameRequest, result *models.ClassificationResult, startTime time.Time, cached bool) {
	fp.addStats(func(s *ProcessorStats) {
		s.SuccessfullyProcessed++
		if result.IsNoFace() {
			s.NoFaceFrames++
		}
		if cached {
			s.CacheHits++
		}
		updateLatency(s, time.Since(startTime))
	})

	if fp.metrics != nil {
		if cached {
			fp.metrics.ObserveCacheHit()
		}
		fp.metrics.ObservePrediction(result.Status, result.Confidence)
	}

	if fp.sessions != nil && request.SessionID != "" {
		if _, err := fp.sessions.Record(ctx, request.SessionID, result.Status); err != nil {
			fp.logger.Warn("Failed to record session status",
				zap.String("session_id", request.SessionID),
				zap.Error(err))
		}
	}
}

func (fp *FrameProcessor) fail(err error) {
	fp.addStats(func(s *ProcessorStats) { s.FailedProcessed++ })
	if fp.metrics != nil {
		fp.metrics.ObserveFailure(FailureReason(err))
	}
}

// FailureReason maps a pipeline error to a short label for metrics and API errors.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidImage):
		return "invalid_image"
	case errors.Is(err, features.ErrMalformedLandmarks):
		return "malformed_landmarks"
	case errors.Is(err, ml.ErrModelInput):
		return "model_input"
	case errors.Is(err, ml.ErrInference):
		return "inference"
	case errors.Is(err, ErrProcessingTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrDetector):
		return "detector"
	case errors.Is(err, ErrQueueFull), errors.Is(err, ErrQueueClosed):
		return "queue_full"
	default:
		return "internal"
	}
}

func (fp *FrameProcessor) addStats(update func(*ProcessorStats)) {
	fp.statsMutex.Lock()
	defer fp.statsMutex.Unlock()
	update(&fp.stats)
}

func (fp *FrameProcessor) GetStats() *ProcessorStats {
	fp.statsMutex.Lock()
	stats := fp.stats
	fp.statsMutex.Unlock()

	stats.Queue = fp.queue.GetQueueStats()
	return &stats
}

func (fp *FrameProcessor) ModelInfo() *models.ModelInfo {
	labels := make([]string, len(fp.artifacts.Encoder.Classes))
	copy(labels, fp.artifacts.Encoder.Classes)

	return &models.ModelInfo{
		Version:      fp.artifacts.Version,
		Labels:       labels,
		FeatureNames: features.Names,
		NumFeatures:  features.Size,
	}
}

func (fp *FrameProcessor) Sessions() *session.Tracker {
	return fp.sessions
}

// GetCacheStats returns cache statistics
func (fp *FrameProcessor) GetCacheStats(ctx context.Context) (*cache.CacheStats, error) {
	if fp.cache == nil {
		return nil, fmt.Errorf("cache not initialized")
	}

	return fp.cache.GetStats(ctx)
}

// Shutdown stops the workers. The cache is owned by the caller.
func (fp *FrameProcessor) Shutdown(timeout time.Duration) error {
	fp.logger.Info("Shutting down frame processor...")

	if err := fp.queue.Shutdown(timeout); err != nil {
		fp.logger.Error("Failed to shutdown queue", zap.Error(err))
		return err
	}

	fp.logger.Info("Frame processor shutdown complete")
	return nil
}

// DecodeImage accepts plain base64 or a data URL such as
// "data:image/jpeg;base64,....".
func DecodeImage(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if strings.HasPrefix(encoded, "data:") {
		comma := strings.IndexByte(encoded, ',')
		if comma < 0 {
			return nil, fmt.Errorf("%w: invalid data URL format", ErrInvalidImage)
		}
		encoded = encoded[comma+1:]
	}
	if encoded == "" {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidImage)
	}

	imageData, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	return imageData, nil
}

func frameHash(imageData []byte) string {
	return fmt.Sprintf("%x", md5.Sum(imageData))
}

func updateLatency(stats *ProcessorStats, latency time.Duration) {
	currentLatency := float64(latency.Microseconds()) / 1000

	if stats.AverageLatency == 0 {
		stats.AverageLatency = currentLatency
	} else {
		alpha := 0.1
		stats.AverageLatency = alpha*currentLatency + (1-alpha)*stats.AverageLatency
	}
}
