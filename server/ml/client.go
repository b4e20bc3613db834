package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/san-kum/drowsiness-cv/server/models"
	"go.uber.org/zap"
)

// LandmarkClient talks to the external face-mesh service.
type LandmarkClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	config     *ClientConfig
}

type ClientConfig struct {
	Timeout             time.Duration
	MaxRetries          int
	RetryDelay          time.Duration
	HealthCheckInterval time.Duration
}

type landmarkRequest struct {
	ImageData []byte `json:"image_data"`
	MaxFaces  int    `json:"max_faces"`
}

type landmarkResponse struct {
	Faces []struct {
		Landmarks []models.Point `json:"landmarks"`
	} `json:"faces"`
}

// errClientSide marks responses that retrying cannot fix.
var errClientSide = errors.New("landmark service rejected request")

func NewLandmarkClient(baseURL string, config *ClientConfig, logger *zap.Logger) *LandmarkClient {
	client := &LandmarkClient{
		baseURL: baseURL,
		logger:  logger,
		config:  config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:       10,
				IdleConnTimeout:    30 * time.Second,
				DisableCompression: true,
			},
		},
	}

	return client
}

// Detect returns the landmarks of the first face in the image; ok is false
// when the service found no face.
func (c *LandmarkClient) Detect(ctx context.Context, image []byte) (models.LandmarkSet, bool, error) {
	request := &landmarkRequest{ImageData: image, MaxFaces: 1}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("Retrying landmark request",
				zap.Int("attempt", attempt),
				zap.Error(lastErr))

			select {
			case <-time.After(c.config.RetryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				return nil, false, ctx.Err()
			}
		}

		landmarks, ok, err := c.executeDetect(ctx, request)
		if err == nil {
			return landmarks, ok, nil
		}
		if errors.Is(err, errClientSide) || ctx.Err() != nil {
			return nil, false, err
		}
		lastErr = err
	}

	return nil, false, fmt.Errorf("landmark detection failed after %d attempts: %w",
		c.config.MaxRetries+1, lastErr)
}

func (c *LandmarkClient) executeDetect(ctx context.Context, request *landmarkRequest) (models.LandmarkSet, bool, error) {
	requestData, err := json.Marshal(request)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/landmarks", c.baseURL)
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(requestData))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}

	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("User-Agent", "drowsiness-cv/1.0")

	response, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return nil, false, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(response.Body, 4096))
		if response.StatusCode >= 400 && response.StatusCode < 500 {
			return nil, false, fmt.Errorf("%w (status %d): %s", errClientSide, response.StatusCode, string(bodyBytes))
		}
		return nil, false, fmt.Errorf("landmark service error (status %d): %s",
			response.StatusCode, string(bodyBytes))
	}

	var lmResponse landmarkResponse
	if err := json.NewDecoder(response.Body).Decode(&lmResponse); err != nil {
		return nil, false, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(lmResponse.Faces) == 0 || len(lmResponse.Faces[0].Landmarks) == 0 {
		return nil, false, nil
	}

	return lmResponse.Faces[0].Landmarks, true, nil
}

func (c *LandmarkClient) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/health", c.baseURL)

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("landmark service unhealthy (status %d)", response.StatusCode)
	}

	return nil
}

// StartHealthChecker polls the service until ctx is cancelled.
func (c *LandmarkClient) StartHealthChecker(ctx context.Context) {
	if c.config.HealthCheckInterval <= 0 {
		return
	}

	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.HealthCheck(ctx); err != nil {
				c.logger.Error("Landmark service health check failed", zap.Error(err))
			} else {
				c.logger.Debug("Landmark service health check passed")
			}
		case <-ctx.Done():
			return
		}
	}
}
