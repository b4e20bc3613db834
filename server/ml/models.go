package ml

import (
	"fmt"
	"math"
)

type classifierSpec struct {
	Type      string      `json:"type"`
	NFeatures int         `json:"n_features"`
	NClasses  int         `json:"n_classes"`
	Trees     []TreeSpec  `json:"trees"`
	Coef      [][]float64 `json:"coef"`
	Intercept []float64   `json:"intercept"`
}

func (s *classifierSpec) build() (Classifier, error) {
	switch s.Type {
	case "random_forest":
		return NewRandomForest(s.NFeatures, s.NClasses, s.Trees)
	case "logistic":
		return NewLogistic(s.Coef, s.Intercept)
	default:
		return nil, fmt.Errorf("unknown classifier type %q", s.Type)
	}
}

// TreeSpec mirrors the node arrays of a fitted sklearn decision tree.
type TreeSpec struct {
	ChildrenLeft  []int       `json:"children_left"`
	ChildrenRight []int       `json:"children_right"`
	Feature       []int       `json:"feature"`
	Threshold     []float64   `json:"threshold"`
	Value         [][]float64 `json:"value"`
}

const leafNode = -1

type RandomForest struct {
	trees     []TreeSpec
	nFeatures int
	nClasses  int
}

func NewRandomForest(nFeatures, nClasses int, trees []TreeSpec) (*RandomForest, error) {
	if len(trees) == 0 {
		return nil, fmt.Errorf("random forest has no trees")
	}
	if nFeatures <= 0 || nClasses <= 0 {
		return nil, fmt.Errorf("random forest needs positive n_features and n_classes")
	}

	for t, tree := range trees {
		n := len(tree.ChildrenLeft)
		if n == 0 || len(tree.ChildrenRight) != n || len(tree.Feature) != n ||
			len(tree.Threshold) != n || len(tree.Value) != n {
			return nil, fmt.Errorf("tree %d: node arrays differ in length", t)
		}
		for i := 0; i < n; i++ {
			left, right := tree.ChildrenLeft[i], tree.ChildrenRight[i]
			if left == leafNode {
				if len(tree.Value[i]) != nClasses {
					return nil, fmt.Errorf("tree %d node %d: leaf has %d values, want %d", t, i, len(tree.Value[i]), nClasses)
				}
				continue
			}
			// sklearn stores children after their parent, which also rules out cycles.
			if left <= i || left >= n || right <= i || right >= n {
				return nil, fmt.Errorf("tree %d node %d: invalid children %d/%d", t, i, left, right)
			}
			if tree.Feature[i] < 0 || tree.Feature[i] >= nFeatures {
				return nil, fmt.Errorf("tree %d node %d: feature %d out of range", t, i, tree.Feature[i])
			}
		}
	}

	return &RandomForest{trees: trees, nFeatures: nFeatures, nClasses: nClasses}, nil
}

func (rf *RandomForest) NumFeatures() int { return rf.nFeatures }
func (rf *RandomForest) NumClasses() int  { return rf.nClasses }

// PredictProba averages the normalized leaf distributions of every tree.
func (rf *RandomForest) PredictProba(x []float64) ([]float64, error) {
	if len(x) != rf.nFeatures {
		return nil, fmt.Errorf("%w: got %d features, forest expects %d", ErrModelInput, len(x), rf.nFeatures)
	}

	proba := make([]float64, rf.nClasses)
	for _, tree := range rf.trees {
		node := 0
		for tree.ChildrenLeft[node] != leafNode {
			if x[tree.Feature[node]] <= tree.Threshold[node] {
				node = tree.ChildrenLeft[node]
			} else {
				node = tree.ChildrenRight[node]
			}
		}

		leaf := tree.Value[node]
		total := 0.0
		for _, v := range leaf {
			total += v
		}
		if total <= 0 {
			return nil, fmt.Errorf("%w: empty leaf distribution", ErrInference)
		}
		for c, v := range leaf {
			proba[c] += v / total
		}
	}

	for c := range proba {
		proba[c] /= float64(len(rf.trees))
	}
	return proba, nil
}

// Logistic is a multinomial logistic regression evaluated with softmax. A
// single coefficient row is a binary model: sigmoid gives [1-p, p].
type Logistic struct {
	coef      [][]float64
	intercept []float64
}

func NewLogistic(coef [][]float64, intercept []float64) (*Logistic, error) {
	if len(coef) == 0 || len(coef) != len(intercept) {
		return nil, fmt.Errorf("logistic model has %d coefficient rows and %d intercepts", len(coef), len(intercept))
	}
	width := len(coef[0])
	for i, row := range coef {
		if len(row) != width || width == 0 {
			return nil, fmt.Errorf("logistic coefficient row %d has %d entries, want %d", i, len(row), width)
		}
	}
	return &Logistic{coef: coef, intercept: intercept}, nil
}

func (l *Logistic) NumFeatures() int { return len(l.coef[0]) }
func (l *Logistic) NumClasses() int {
	if len(l.coef) == 1 {
		return 2
	}
	return len(l.coef)
}

func (l *Logistic) PredictProba(x []float64) ([]float64, error) {
	if len(x) != l.NumFeatures() {
		return nil, fmt.Errorf("%w: got %d features, model expects %d", ErrModelInput, len(x), l.NumFeatures())
	}

	if len(l.coef) == 1 {
		z := l.intercept[0]
		for i, w := range l.coef[0] {
			z += w * x[i]
		}
		p := 1 / (1 + math.Exp(-z))
		return []float64{1 - p, p}, nil
	}

	logits := make([]float64, len(l.coef))
	maxLogit := math.Inf(-1)
	for c, row := range l.coef {
		z := l.intercept[c]
		for i, w := range row {
			z += w * x[i]
		}
		logits[c] = z
		maxLogit = math.Max(maxLogit, z)
	}

	sum := 0.0
	for c, z := range logits {
		logits[c] = math.Exp(z - maxLogit)
		sum += logits[c]
	}
	for c := range logits {
		logits[c] /= sum
	}
	return logits, nil
}
