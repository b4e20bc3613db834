package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/san-kum/drowsiness-cv/server/config"
	"github.com/san-kum/drowsiness-cv/server/features"
	"github.com/san-kum/drowsiness-cv/server/middleware"
	"github.com/san-kum/drowsiness-cv/server/ml"
	"github.com/san-kum/drowsiness-cv/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeDetector struct {
	landmarks models.LandmarkSet
	found     bool
	err       error
}

func (d fakeDetector) Detect(ctx context.Context, image []byte) (models.LandmarkSet, bool, error) {
	return d.landmarks, d.found, d.err
}

func levelFace() models.LandmarkSet {
	lm := make(models.LandmarkSet, 478)
	for _, eye := range []features.EyeIndices{features.LeftEye, features.RightEye} {
		lm[eye[0]] = models.Point{X: 0.3, Y: 0.5}
		lm[eye[1]] = models.Point{X: 0.33, Y: 0.485}
		lm[eye[2]] = models.Point{X: 0.37, Y: 0.485}
		lm[eye[3]] = models.Point{X: 0.4, Y: 0.5}
		lm[eye[4]] = models.Point{X: 0.37, Y: 0.515}
		lm[eye[5]] = models.Point{X: 0.33, Y: 0.515}
	}
	lm[features.Forehead] = models.Point{X: 0.5, Y: 0.1}
	lm[features.Chin] = models.Point{X: 0.5, Y: 0.9}
	return lm
}

// testArtifacts uses a logistic model that always prefers "alert" at 0.87.
func testArtifacts(t *testing.T) *ml.Artifacts {
	t.Helper()

	// softmax over intercepts [ln 0.87, ln 0.13] with zero weights
	coef := make([][]float64, 2)
	for i := range coef {
		coef[i] = make([]float64, features.Size)
	}
	classifier, err := ml.NewLogistic(coef, []float64{-0.13926206733350766, -2.0402208285265546})
	require.NoError(t, err)

	artifacts := &ml.Artifacts{
		Scaler:     &ml.Scaler{Mean: make([]float64, features.Size), Scale: []float64{1, 1, 1, 1, 1, 1}},
		Classifier: classifier,
		Encoder:    &ml.LabelEncoder{Classes: []string{"alert", "drowsy"}},
		Version:    "rf-test",
	}
	require.NoError(t, artifacts.Validate())
	return artifacts
}

func encodedFrame() string {
	return base64.StdEncoding.EncodeToString([]byte("frame"))
}

func TestRunOnce(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		detector fakeDetector
		want     string
		wantErr  bool
	}{
		{
			name:     "classified",
			input:    `{"image":"` + encodedFrame() + `"}`,
			detector: fakeDetector{landmarks: levelFace(), found: true},
			want:     `{"status":"alert","confidence":0.87}`,
		},
		{
			name:     "no face",
			input:    `{"image":"` + encodedFrame() + `"}`,
			detector: fakeDetector{},
			want:     `{"status":"no_face"}`,
		},
		{
			name:    "not json",
			input:   `image=abc`,
			want:    `{"error":{"code":"invalid_image","message":"invalid image data: invalid character 'i' looking for beginning of value"}}`,
			wantErr: true,
		},
		{
			name:     "detector failure",
			input:    `{"image":"` + encodedFrame() + `"}`,
			detector: fakeDetector{err: errors.New("unreachable")},
			want:     `{"error":{"code":"detector","message":"landmark detection failed: unreachable"}}`,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := runOnce(context.Background(), strings.NewReader(tt.input), &out, tt.detector, testArtifacts(t))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
			}

			raw := out.String()
			if tt.name == "classified" {
				assert.Contains(t, raw, `"status":"alert"`)
				assert.Contains(t, raw, `"confidence":0.87`)
				return
			}
			assert.JSONEq(t, tt.want, raw)
		})
	}
}

func newTestServer(t *testing.T) (*Server, *config.Config) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.LoadConfig()
	cfg.Redis.Host = ""
	cfg.Security.JWTSecretKey = "test-secret"

	server := NewServer(cfg, testArtifacts(t), fakeDetector{}, zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		server.Shutdown(ctx)
	})
	return server, cfg
}

func TestRoutes(t *testing.T) {
	server, cfg := newTestServer(t)

	token, err := middleware.NewAuthMiddleware(cfg.Security.JWTSecretKey, zap.NewNop()).
		GenerateToken("ops-1", "ops", "admin", time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		token  string
		want   int
	}{
		{name: "health", method: http.MethodGet, path: "/health", want: http.StatusOK},
		{name: "api health", method: http.MethodGet, path: "/api/v1/health", want: http.StatusOK},
		{name: "metrics", method: http.MethodGet, path: "/metrics", want: http.StatusOK},
		{name: "predict", method: http.MethodPost, path: "/api/v1/predict", body: `{"image":"` + encodedFrame() + `"}`, want: http.StatusOK},
		{name: "predict bad body", method: http.MethodPost, path: "/api/v1/predict", body: `[]`, want: http.StatusBadRequest},
		{name: "model", method: http.MethodGet, path: "/api/v1/model", want: http.StatusOK},
		{name: "stats", method: http.MethodGet, path: "/api/v1/stats", want: http.StatusOK},
		{name: "unknown session", method: http.MethodGet, path: "/api/v1/sessions/nobody", want: http.StatusNotFound},
		{name: "admin without token", method: http.MethodGet, path: "/api/v1/admin/cache-stats", want: http.StatusUnauthorized},
		{name: "admin cache stats", method: http.MethodGet, path: "/api/v1/admin/cache-stats", token: token, want: http.StatusOK},
		{name: "admin rate limit", method: http.MethodGet, path: "/api/v1/admin/rate-limit", token: token, want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req *http.Request
			if tt.body != "" {
				req = httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
				req.Header.Set("Content-Type", "application/json")
			} else {
				req = httptest.NewRequest(tt.method, tt.path, nil)
			}
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}

			w := httptest.NewRecorder()
			server.router.ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.NotEmpty(t, w.Header().Get(middleware.RequestIDKey))
		})
	}
}

func TestMetricsExposeQueueGauge(t *testing.T) {
	server, _ := newTestServer(t)

	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "drowsiness_queue_size")
	assert.Contains(t, w.Body.String(), "drowsiness_websocket_clients")
}

func TestIssueToken(t *testing.T) {
	cfg := config.LoadConfig()
	cfg.Security.JWTSecretKey = "ops-secret"

	var out bytes.Buffer
	require.NoError(t, issueToken(cfg, "night-shift", time.Hour, &out, zap.NewNop()))
	token := strings.TrimSpace(out.String())
	require.NotEmpty(t, token)

	gin.SetMode(gin.TestMode)
	auth := middleware.NewAuthMiddleware(cfg.Security.JWTSecretKey, zap.NewNop())
	router := gin.New()
	router.GET("/admin", auth.RequireAuth(), auth.RequireRole("admin"), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("username"))
	})

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "night-shift", w.Body.String())
}

func TestIssueTokenRequiresSecret(t *testing.T) {
	cfg := config.LoadConfig()
	cfg.Security.JWTSecretKey = ""

	var out bytes.Buffer
	err := issueToken(cfg, "ops", time.Hour, &out, zap.NewNop())
	assert.ErrorIs(t, err, errNoSecret)
	assert.Empty(t, out.String())

	cfg.Security.JWTSecretKey = "ops-secret"
	assert.Error(t, issueToken(cfg, "ops", 0, &out, zap.NewNop()))
}
