package models

import "time"

const (
	StatusNoFace = "no_face"
	StatusAlert  = "alert"
	StatusDrowsy = "drowsy"
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z,omitempty"`
}

// LandmarkSet holds the face-mesh points of exactly one face, in detector order.
type LandmarkSet []Point

type FrameRequest struct {
	ImageData []byte `json:"image_data"`
	Timestamp int64  `json:"timestamp"`
	ClientID  string `json:"client_id"`
	SessionID string `json:"session_id"`
}

type ClassificationResult struct {
	Status     string   `json:"status"`
	Confidence *float64 `json:"confidence,omitempty"`
}

func NoFace() *ClassificationResult {
	return &ClassificationResult{Status: StatusNoFace}
}

func Classified(label string, confidence float64) *ClassificationResult {
	return &ClassificationResult{Status: label, Confidence: &confidence}
}

func (r *ClassificationResult) IsNoFace() bool {
	return r.Status == StatusNoFace
}

type SessionSummary struct {
	SessionID      string         `json:"session_id"`
	DominantStatus string         `json:"dominant_status"`
	Counts         map[string]int `json:"counts"`
	Window         int            `json:"window"`
	History        []string       `json:"history"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

type ModelInfo struct {
	Version      string   `json:"version"`
	Labels       []string `json:"labels"`
	FeatureNames []string `json:"feature_names"`
	NumFeatures  int      `json:"num_features"`
}

type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error APIError `json:"error"`
}
