package processor

import (
	"context"
	"encoding/base64"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/san-kum/drowsiness-cv/server/cache"
	"github.com/san-kum/drowsiness-cv/server/features"
	"github.com/san-kum/drowsiness-cv/server/metrics"
	"github.com/san-kum/drowsiness-cv/server/ml"
	"github.com/san-kum/drowsiness-cv/server/models"
	"github.com/san-kum/drowsiness-cv/server/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockDetector struct {
	landmarks models.LandmarkSet
	found     bool
	err       error
	delay     time.Duration
	calls     atomic.Int32
	cancelled atomic.Bool
}

func (d *mockDetector) Detect(ctx context.Context, image []byte) (models.LandmarkSet, bool, error) {
	d.calls.Add(1)
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			d.cancelled.Store(true)
			return nil, false, ctx.Err()
		}
	}
	return d.landmarks, d.found, d.err
}

// alertModel says "alert" with 0.87 unless avg_ear drops below 0.2.
type alertModel struct{}

func (alertModel) NumFeatures() int { return features.Size }
func (alertModel) NumClasses() int  { return 2 }

func (alertModel) PredictProba(x []float64) ([]float64, error) {
	if x[2] < 0.2 {
		return []float64{0.1, 0.9}, nil
	}
	return []float64{0.87, 0.13}, nil
}

func testArtifacts() *ml.Artifacts {
	return &ml.Artifacts{
		Scaler:     &ml.Scaler{Mean: make([]float64, 6), Scale: []float64{1, 1, 1, 1, 1, 1}},
		Classifier: alertModel{},
		Encoder:    &ml.LabelEncoder{Classes: []string{"alert", "drowsy"}},
		Version:    "test",
	}
}

func faceMesh(ear float64) models.LandmarkSet {
	lm := make(models.LandmarkSet, 478)
	for _, eye := range []features.EyeIndices{features.LeftEye, features.RightEye} {
		half := ear * 0.1 / 2
		lm[eye[0]] = models.Point{X: 0.3, Y: 0.5}
		lm[eye[1]] = models.Point{X: 0.33, Y: 0.5 - half}
		lm[eye[2]] = models.Point{X: 0.37, Y: 0.5 - half}
		lm[eye[3]] = models.Point{X: 0.4, Y: 0.5}
		lm[eye[4]] = models.Point{X: 0.37, Y: 0.5 + half}
		lm[eye[5]] = models.Point{X: 0.33, Y: 0.5 + half}
	}
	lm[features.Forehead] = models.Point{X: 0.2, Y: 0.3}
	lm[features.Chin] = models.Point{X: 0.8, Y: 0.3}
	return lm
}

func newProcessor(t *testing.T, detector Detector, cacheResults bool) (*FrameProcessor, *session.Tracker) {
	t.Helper()

	store := cache.NewMemoryCache(100, time.Minute, zap.NewNop())
	tracker := session.NewTracker(store, session.Config{Window: 30, TTL: time.Minute}, zap.NewNop())

	fp := NewFrameProcessor(Dependencies{
		Detector:  detector,
		Artifacts: testArtifacts(),
		Cache:     store,
		Sessions:  tracker,
		Metrics:   metrics.New(),
		Logger:    zap.NewNop(),
	}, &ProcessorConfig{
		MaxQueueSize:      8,
		MaxWorkers:        2,
		ProcessingTimeout: time.Second,
		CacheResults:      cacheResults,
	})

	t.Cleanup(func() {
		fp.Shutdown(time.Second)
		store.Close()
	})
	return fp, tracker
}

func TestAnalyzeNoFace(t *testing.T) {
	result, err := Analyze(context.Background(), &mockDetector{found: false}, testArtifacts(), nil, []byte("img"))

	require.NoError(t, err)
	assert.Equal(t, models.StatusNoFace, result.Status)
	assert.Nil(t, result.Confidence)
}

func TestAnalyzeAlert(t *testing.T) {
	// both eyes at EAR 0.30 with a level forehead-to-chin line
	detector := &mockDetector{landmarks: faceMesh(0.3), found: true}

	result, err := Analyze(context.Background(), detector, testArtifacts(), nil, []byte("img"))

	require.NoError(t, err)
	assert.Equal(t, "alert", result.Status)
	require.NotNil(t, result.Confidence)
	assert.Equal(t, 0.87, *result.Confidence)
}

func TestAnalyzeDrowsy(t *testing.T) {
	detector := &mockDetector{landmarks: faceMesh(0.1), found: true}

	result, err := Analyze(context.Background(), detector, testArtifacts(), nil, []byte("img"))

	require.NoError(t, err)
	assert.Equal(t, "drowsy", result.Status)
}

func TestAnalyzeErrors(t *testing.T) {
	tests := []struct {
		name     string
		detector *mockDetector
		wantErr  error
		reason   string
	}{
		{
			name:     "detector failure",
			detector: &mockDetector{err: errors.New("connection refused")},
			wantErr:  ErrDetector,
			reason:   "detector",
		},
		{
			name:     "truncated mesh",
			detector: &mockDetector{landmarks: faceMesh(0.3)[:100], found: true},
			wantErr:  features.ErrMalformedLandmarks,
			reason:   "malformed_landmarks",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Analyze(context.Background(), tt.detector, testArtifacts(), nil, []byte("img"))
			assert.Nil(t, result)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.reason, FailureReason(err))
		})
	}
}

func TestProcessFrameRecordsSession(t *testing.T) {
	detector := &mockDetector{landmarks: faceMesh(0.3), found: true}
	fp, tracker := newProcessor(t, detector, false)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := fp.ProcessFrame(ctx, &models.FrameRequest{ImageData: []byte("frame"), SessionID: "cab-7"})
		require.NoError(t, err)
		assert.Equal(t, "alert", result.Status)
	}

	summary, err := tracker.Summary(ctx, "cab-7")
	require.NoError(t, err)
	assert.Equal(t, "alert", summary.DominantStatus)
	assert.Len(t, summary.History, 3)

	stats := fp.GetStats()
	assert.Equal(t, int64(3), stats.TotalProcessed)
	assert.Equal(t, int64(3), stats.SuccessfullyProcessed)
	assert.Equal(t, int32(3), detector.calls.Load())
	assert.Equal(t, 8, stats.Queue.MaxCapacity)
	assert.True(t, stats.Queue.IsRunning)
}

func TestProcessFrameUsesCache(t *testing.T) {
	detector := &mockDetector{landmarks: faceMesh(0.3), found: true}
	fp, _ := newProcessor(t, detector, true)
	ctx := context.Background()

	first, err := fp.ProcessFrame(ctx, &models.FrameRequest{ImageData: []byte("same")})
	require.NoError(t, err)
	second, err := fp.ProcessFrame(ctx, &models.FrameRequest{ImageData: []byte("same")})
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, *first.Confidence, *second.Confidence)
	assert.Equal(t, int32(1), detector.calls.Load())
	assert.Equal(t, int64(1), fp.GetStats().CacheHits)
}

func TestProcessFrameTimeout(t *testing.T) {
	detector := &mockDetector{found: false, delay: 5 * time.Second}
	fp, _ := newProcessor(t, detector, false)
	fp.config.ProcessingTimeout = 20 * time.Millisecond

	start := time.Now()
	_, err := fp.ProcessFrame(context.Background(), &models.FrameRequest{ImageData: []byte("slow")})
	assert.ErrorIs(t, err, ErrProcessingTimeout)
	assert.Equal(t, "timeout", FailureReason(err))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int64(1), fp.GetStats().FailedProcessed)

	// the worker is released by the same deadline instead of running on
	require.Eventually(t, detector.cancelled.Load, time.Second, 5*time.Millisecond)
}

func TestAnalyzeDetectorDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	detector := &mockDetector{delay: time.Second}
	result, err := Analyze(ctx, detector, testArtifacts(), nil, []byte("img"))

	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrDetector)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "timeout", FailureReason(err))
}

func TestProcessFrameAfterShutdown(t *testing.T) {
	fp, _ := newProcessor(t, &mockDetector{}, false)
	require.NoError(t, fp.Shutdown(time.Second))

	_, err := fp.ProcessFrame(context.Background(), &models.FrameRequest{ImageData: []byte("late")})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestModelInfo(t *testing.T) {
	fp, _ := newProcessor(t, &mockDetector{}, false)

	info := fp.ModelInfo()
	assert.Equal(t, "test", info.Version)
	assert.Equal(t, []string{"alert", "drowsy"}, info.Labels)
	assert.Equal(t, features.Names, info.FeatureNames)
}

func TestDecodeImage(t *testing.T) {
	raw := []byte{0xff, 0xd8, 0xff, 0xe0}
	encoded := base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name    string
		input   string
		want    []byte
		wantErr bool
	}{
		{name: "plain base64", input: encoded, want: raw},
		{name: "data url", input: "data:image/jpeg;base64," + encoded, want: raw},
		{name: "empty", input: "", wantErr: true},
		{name: "data url without payload", input: "data:image/jpeg;base64", wantErr: true},
		{name: "not base64", input: "%%%", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeImage(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidImage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
