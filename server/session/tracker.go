// Package session keeps a short per-client history of frame statuses and
// reports the dominant one. It does not feed back into the feature vector.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/san-kum/drowsiness-cv/server/cache"
	"github.com/san-kum/drowsiness-cv/server/models"
	"go.uber.org/zap"
)

var ErrSessionNotFound = errors.New("session not found")

type Config struct {
	Window int
	TTL    time.Duration
}

type Tracker struct {
	cache  cache.Cache
	config Config
	logger *zap.Logger
	// serializes read-modify-write of histories within this process
	mutex sync.Mutex
}

type record struct {
	History   []string  `json:"history"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewTracker(store cache.Cache, config Config, logger *zap.Logger) *Tracker {
	if config.Window <= 0 {
		config.Window = 30
	}
	return &Tracker{cache: store, config: config, logger: logger}
}

func cacheKey(sessionID string) string {
	return "session:" + sessionID
}

// Record appends one frame status. A missing face counts as alert.
func (t *Tracker) Record(ctx context.Context, sessionID, status string) (*models.SessionSummary, error) {
	if status == models.StatusNoFace {
		status = models.StatusAlert
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	var rec record
	if err := t.cache.Get(ctx, cacheKey(sessionID), &rec); err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}

	rec.History = append(rec.History, status)
	if len(rec.History) > t.config.Window {
		rec.History = rec.History[len(rec.History)-t.config.Window:]
	}
	rec.UpdatedAt = time.Now()

	if err := t.cache.SetWithTTL(ctx, cacheKey(sessionID), rec, t.config.TTL); err != nil {
		return nil, fmt.Errorf("failed to store session %s: %w", sessionID, err)
	}

	t.logger.Debug("Recorded session status",
		zap.String("session_id", sessionID),
		zap.String("status", status),
		zap.Int("history", len(rec.History)))

	return t.summarize(sessionID, &rec), nil
}

func (t *Tracker) Summary(ctx context.Context, sessionID string) (*models.SessionSummary, error) {
	var rec record
	err := t.cache.Get(ctx, cacheKey(sessionID), &rec)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}

	return t.summarize(sessionID, &rec), nil
}

func (t *Tracker) Reset(ctx context.Context, sessionID string) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.cache.Delete(ctx, cacheKey(sessionID))
}

func (t *Tracker) summarize(sessionID string, rec *record) *models.SessionSummary {
	counts := make(map[string]int)
	for _, status := range rec.History {
		counts[status]++
	}

	history := make([]string, len(rec.History))
	copy(history, rec.History)

	return &models.SessionSummary{
		SessionID:      sessionID,
		DominantStatus: DominantStatus(rec.History),
		Counts:         counts,
		Window:         t.config.Window,
		History:        history,
		UpdatedAt:      rec.UpdatedAt,
	}
}

// DominantStatus returns the most frequent status. On a tie the status that
// first appeared in the history wins; an empty history is alert.
func DominantStatus(history []string) string {
	counts := make(map[string]int)
	var order []string
	for _, status := range history {
		if counts[status] == 0 {
			order = append(order, status)
		}
		counts[status]++
	}

	dominant, maxCount := models.StatusAlert, 0
	for _, status := range order {
		if counts[status] > maxCount {
			dominant, maxCount = status, counts[status]
		}
	}
	return dominant
}
