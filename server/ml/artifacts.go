package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/san-kum/drowsiness-cv/server/features"
	"go.uber.org/zap"
)

var (
	ErrArtifactLoad = errors.New("artifact load failed")
	ErrModelInput   = errors.New("model input mismatch")
	ErrInference    = errors.New("inference failed")
)

// Classifier maps one scaled feature vector to a probability per class index.
type Classifier interface {
	PredictProba(x []float64) ([]float64, error)
	NumFeatures() int
	NumClasses() int
}

type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

type LabelEncoder struct {
	Classes []string `json:"classes"`
}

// Artifacts is loaded once at startup and is never mutated afterwards, so it
// is safe to share between goroutines without locking.
type Artifacts struct {
	Scaler     *Scaler
	Classifier Classifier
	Encoder    *LabelEncoder
	Version    string
}

type ArtifactPaths struct {
	Scaler     string
	Classifier string
	Encoder    string
}

func LoadArtifacts(paths ArtifactPaths, version string, logger *zap.Logger) (*Artifacts, error) {
	var scaler Scaler
	if err := readJSON(paths.Scaler, &scaler); err != nil {
		return nil, err
	}

	var encoder LabelEncoder
	if err := readJSON(paths.Encoder, &encoder); err != nil {
		return nil, err
	}

	var spec classifierSpec
	if err := readJSON(paths.Classifier, &spec); err != nil {
		return nil, err
	}
	classifier, err := spec.build()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrArtifactLoad, paths.Classifier, err)
	}

	artifacts := &Artifacts{
		Scaler:     &scaler,
		Classifier: classifier,
		Encoder:    &encoder,
		Version:    version,
	}

	if err := artifacts.Validate(); err != nil {
		return nil, err
	}

	logger.Info("Model artifacts loaded",
		zap.String("version", version),
		zap.String("classifier", spec.Type),
		zap.Strings("labels", encoder.Classes))

	return artifacts, nil
}

func readJSON(path string, dest any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrArtifactLoad, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrArtifactLoad, path, err)
	}
	return nil
}

// Validate checks that scaler, classifier and encoder agree with each other
// and with the feature vector layout.
func (a *Artifacts) Validate() error {
	if a.Scaler == nil || a.Classifier == nil || a.Encoder == nil {
		return fmt.Errorf("%w: incomplete artifact set", ErrArtifactLoad)
	}
	if len(a.Scaler.Mean) != features.Size || len(a.Scaler.Scale) != features.Size {
		return fmt.Errorf("%w: scaler has %d/%d entries, feature vector has %d",
			ErrModelInput, len(a.Scaler.Mean), len(a.Scaler.Scale), features.Size)
	}
	if a.Classifier.NumFeatures() != features.Size {
		return fmt.Errorf("%w: classifier expects %d features, feature vector has %d",
			ErrModelInput, a.Classifier.NumFeatures(), features.Size)
	}
	if len(a.Encoder.Classes) == 0 {
		return fmt.Errorf("%w: label encoder has no classes", ErrArtifactLoad)
	}
	if a.Classifier.NumClasses() != len(a.Encoder.Classes) {
		return fmt.Errorf("%w: classifier has %d classes, encoder has %d",
			ErrModelInput, a.Classifier.NumClasses(), len(a.Encoder.Classes))
	}
	return nil
}

// Transform applies (x - mean) / scale elementwise.
func (s *Scaler) Transform(x []float64) ([]float64, error) {
	if len(x) != len(s.Mean) || len(x) != len(s.Scale) {
		return nil, fmt.Errorf("%w: got %d features, scaler expects %d", ErrModelInput, len(x), len(s.Mean))
	}

	scaled := make([]float64, len(x))
	for i, v := range x {
		scale := s.Scale[i]
		if scale == 0 {
			scale = 1
		}
		scaled[i] = (v - s.Mean[i]) / scale
	}
	return scaled, nil
}

func (e *LabelEncoder) Decode(index int) (string, error) {
	if index < 0 || index >= len(e.Classes) {
		return "", fmt.Errorf("%w: class index %d outside encoder range %d", ErrInference, index, len(e.Classes))
	}
	return e.Classes[index], nil
}
