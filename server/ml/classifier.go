package ml

import (
	"fmt"
	"math"

	"github.com/san-kum/drowsiness-cv/server/features"
)

const probabilityTolerance = 1e-6

// Classify scales the vector, asks the classifier for one distribution and
// returns the label with the highest probability. Ties go to the lowest index.
func Classify(vector features.FeatureVector, artifacts *Artifacts) (string, float64, error) {
	if artifacts == nil || artifacts.Scaler == nil || artifacts.Classifier == nil || artifacts.Encoder == nil {
		return "", 0, fmt.Errorf("%w: model artifacts not loaded", ErrInference)
	}

	scaled, err := artifacts.Scaler.Transform(vector)
	if err != nil {
		return "", 0, err
	}

	proba, err := artifacts.Classifier.PredictProba(scaled)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrInference, err)
	}
	if err := checkDistribution(proba, artifacts.Classifier.NumClasses()); err != nil {
		return "", 0, err
	}

	best := 0
	for i := 1; i < len(proba); i++ {
		if proba[i] > proba[best] {
			best = i
		}
	}

	label, err := artifacts.Encoder.Decode(best)
	if err != nil {
		return "", 0, err
	}
	return label, proba[best], nil
}

func checkDistribution(proba []float64, classes int) error {
	if len(proba) == 0 || len(proba) != classes {
		return fmt.Errorf("%w: got %d probabilities for %d classes", ErrInference, len(proba), classes)
	}

	sum := 0.0
	for _, p := range proba {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return fmt.Errorf("%w: probability %v outside [0,1]", ErrInference, p)
		}
		sum += p
	}
	if math.Abs(sum-1) > probabilityTolerance {
		return fmt.Errorf("%w: probabilities sum to %v", ErrInference, sum)
	}
	return nil
}
