package features

import "github.com/san-kum/drowsiness-cv/server/models"

// Size is the dimensionality the scaler and classifier were trained with.
const Size = 6

// No rolling history is kept per frame, so the temporal features are fixed.
const (
	StubEARStd  = 0.01
	StubPerclos = 0.1
)

// Names gives the column order of a FeatureVector.
var Names = []string{"left_ear", "right_ear", "avg_ear", "pitch", "ear_std", "perclos"}

type FeatureVector []float64

func Assemble(leftEAR, rightEAR, pitch, earStd, perclos float64) FeatureVector {
	avgEAR := (leftEAR + rightEAR) / 2.0
	return FeatureVector{leftEAR, rightEAR, avgEAR, pitch, earStd, perclos}
}

// Extract computes the geometric features of one face and assembles them
// with the stub temporal statistics.
func Extract(landmarks models.LandmarkSet) (FeatureVector, error) {
	leftEAR, err := EyeAspectRatio(landmarks, LeftEye)
	if err != nil {
		return nil, err
	}
	rightEAR, err := EyeAspectRatio(landmarks, RightEye)
	if err != nil {
		return nil, err
	}
	pitch, err := EstimatePitch(landmarks)
	if err != nil {
		return nil, err
	}

	return Assemble(leftEAR, rightEAR, pitch, StubEARStd, StubPerclos), nil
}

func (v FeatureVector) LeftEAR() float64  { return v[0] }
func (v FeatureVector) RightEAR() float64 { return v[1] }
func (v FeatureVector) AvgEAR() float64   { return v[2] }
func (v FeatureVector) Pitch() float64    { return v[3] }
