// Package features turns face-mesh landmarks into the fixed feature vector
// the drowsiness classifier was trained on.
package features

import (
	"errors"
	"fmt"
	"math"

	"github.com/san-kum/drowsiness-cv/server/models"
)

// EyeIndices lists six landmark indices in the order
// outer corner, upper outer, upper inner, inner corner, lower inner, lower outer.
type EyeIndices [6]int

// Face-mesh indices read by the extractor.
var (
	LeftEye  = EyeIndices{33, 160, 158, 133, 153, 144}
	RightEye = EyeIndices{362, 387, 385, 263, 373, 380}
)

const (
	Chin     = 152
	Forehead = 10

	// earEpsilon keeps the ratio finite when both eye corners coincide.
	earEpsilon = 1e-6
)

var ErrMalformedLandmarks = errors.New("malformed landmark input")

func point(landmarks models.LandmarkSet, index int) (models.Point, error) {
	if index < 0 || index >= len(landmarks) {
		return models.Point{}, fmt.Errorf("%w: index %d out of range (have %d points)",
			ErrMalformedLandmarks, index, len(landmarks))
	}
	p := landmarks[index]
	if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
		return models.Point{}, fmt.Errorf("%w: index %d is not a finite point", ErrMalformedLandmarks, index)
	}
	return p, nil
}

func distance(a, b models.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// EyeAspectRatio computes (|p1-p5| + |p2-p4|) / (2|p0-p3| + eps) in the image plane.
func EyeAspectRatio(landmarks models.LandmarkSet, eye EyeIndices) (float64, error) {
	var pts [6]models.Point
	for i, index := range eye {
		p, err := point(landmarks, index)
		if err != nil {
			return 0, err
		}
		pts[i] = p
	}

	vertical := distance(pts[1], pts[5]) + distance(pts[2], pts[4])
	horizontal := distance(pts[0], pts[3])

	return vertical / (2.0*horizontal + earEpsilon), nil
}

// EstimatePitch returns the angle of the forehead-to-chin vector in radians.
// This is an in-plane tilt proxy, not a 3D head-pose pitch.
func EstimatePitch(landmarks models.LandmarkSet) (float64, error) {
	chin, err := point(landmarks, Chin)
	if err != nil {
		return 0, err
	}
	forehead, err := point(landmarks, Forehead)
	if err != nil {
		return 0, err
	}

	pitch := math.Atan2(chin.Y-forehead.Y, chin.X-forehead.X)
	// atan2(-0, x<0) is -pi; keep the result in (-pi, pi]
	if pitch == -math.Pi {
		pitch = math.Pi
	}
	return pitch, nil
}
