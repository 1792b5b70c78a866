// Package classifiers provides supervised classification algorithms sharing
// one feature space, and an ensemble that trains and serves them by name.
package classifiers

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
)

var (
	// ErrUnknownModel reports a model name not registered in the ensemble.
	ErrUnknownModel = errors.New("unknown model")
	// ErrCardinalityMismatch reports feature and label columns of different length.
	ErrCardinalityMismatch = errors.New("feature/label cardinality mismatch")
	// ErrNotTrained reports prediction before training or loading.
	ErrNotTrained = errors.New("model not trained")
)

// Classifier is the common interface for all supervised algorithms.
type Classifier interface {
	// Fit trains on feature rows X with class indices y in [0, classes).
	Fit(X [][]float64, y []int, classes int) error

	// Predict returns the winning class index and the full probability
	// distribution over classes for a single sample.
	Predict(sample []float64) (int, []float64, error)

	// Save serializes the trained model to bytes.
	Save() ([]byte, error)

	// Load deserializes a trained model from bytes.
	Load(data []byte) error
}

// ClassMetrics holds per-class evaluation results.
type ClassMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Metrics holds held-out evaluation results for one model.
type Metrics struct {
	Accuracy float64        `json:"accuracy"`
	PerClass []ClassMetrics `json:"per_class"`
}

// Ensemble is a named collection of independently trained classifiers.
// Training replaces all model state; after Train (or loading every model)
// the ensemble is read-only and safe for concurrent Predict calls.
type Ensemble struct {
	mu     sync.RWMutex
	models map[string]Classifier
	seed   int64
}

// EnsembleOption configures an Ensemble.
type EnsembleOption func(*Ensemble)

// WithSplitSeed sets the seed for the train/test split shuffle.
func WithSplitSeed(seed int64) EnsembleOption {
	return func(e *Ensemble) {
		e.seed = seed
	}
}

// NewEnsemble creates an empty ensemble.
func NewEnsemble(opts ...EnsembleOption) *Ensemble {
	e := &Ensemble{
		models: make(map[string]Classifier),
		seed:   42,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register adds a classifier under a name, replacing any previous one.
func (e *Ensemble) Register(name string, c Classifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.models[name] = c
}

// Names returns the registered model names in sorted order.
func (e *Ensemble) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.models))
	for name := range e.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Model returns the classifier registered under name.
func (e *Ensemble) Model(name string) (Classifier, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	return c, nil
}

// Train fits every registered model on a deterministic 80/20 split of the
// given rows and evaluates each on the held-out 20%.
func (e *Ensemble) Train(X [][]float64, y []int, classes int) (map[string]Metrics, error) {
	if len(X) != len(y) {
		return nil, fmt.Errorf("%w: %d feature rows, %d labels", ErrCardinalityMismatch, len(X), len(y))
	}
	if len(X) < 2 {
		return nil, errors.New("need at least two samples to train")
	}
	if classes < 2 {
		return nil, errors.New("need at least two classes to train")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	trainX, trainY, testX, testY := split(X, y, e.seed)

	results := make(map[string]Metrics, len(e.models))
	for name, model := range e.models {
		if err := model.Fit(trainX, trainY, classes); err != nil {
			return nil, fmt.Errorf("train %s: %w", name, err)
		}
		m, err := evaluate(model, testX, testY, classes)
		if err != nil {
			return nil, fmt.Errorf("evaluate %s: %w", name, err)
		}
		results[name] = m
	}
	return results, nil
}

// Predict scores one feature vector with the named model.
func (e *Ensemble) Predict(vec []float64, name string) (int, []float64, error) {
	e.mu.RLock()
	model, ok := e.models[name]
	e.mu.RUnlock()
	if !ok {
		return 0, nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	return model.Predict(vec)
}

// split shuffles row indices with a fixed seed and carves off 20% for
// evaluation. The shuffle keeps feature and label rows aligned.
func split(X [][]float64, y []int, seed int64) (trainX [][]float64, trainY []int, testX [][]float64, testY []int) {
	n := len(X)
	perm := rand.New(rand.NewSource(seed)).Perm(n)

	testN := n / 5
	if testN == 0 {
		testN = 1
	}
	cut := n - testN

	trainX = make([][]float64, 0, cut)
	trainY = make([]int, 0, cut)
	testX = make([][]float64, 0, testN)
	testY = make([]int, 0, testN)
	for i, idx := range perm {
		if i < cut {
			trainX = append(trainX, X[idx])
			trainY = append(trainY, y[idx])
		} else {
			testX = append(testX, X[idx])
			testY = append(testY, y[idx])
		}
	}
	return trainX, trainY, testX, testY
}

// evaluate computes accuracy and per-class precision/recall/F1 on held-out rows.
func evaluate(model Classifier, X [][]float64, y []int, classes int) (Metrics, error) {
	confusion := make([][]int, classes)
	for i := range confusion {
		confusion[i] = make([]int, classes)
	}

	correct := 0
	for i, sample := range X {
		pred, _, err := model.Predict(sample)
		if err != nil {
			return Metrics{}, err
		}
		confusion[y[i]][pred]++
		if pred == y[i] {
			correct++
		}
	}

	m := Metrics{
		Accuracy: float64(correct) / float64(len(X)),
		PerClass: make([]ClassMetrics, classes),
	}
	for c := 0; c < classes; c++ {
		var tp, fp, fn, support int
		for other := 0; other < classes; other++ {
			if other == c {
				tp = confusion[c][c]
			} else {
				fn += confusion[c][other]
				fp += confusion[other][c]
			}
			support += confusion[c][other]
		}
		cm := ClassMetrics{Support: support}
		if tp+fp > 0 {
			cm.Precision = float64(tp) / float64(tp+fp)
		}
		if tp+fn > 0 {
			cm.Recall = float64(tp) / float64(tp+fn)
		}
		if cm.Precision+cm.Recall > 0 {
			cm.F1 = 2 * cm.Precision * cm.Recall / (cm.Precision + cm.Recall)
		}
		m.PerClass[c] = cm
	}
	return m, nil
}

// Argmax returns the index of the largest probability, preferring the lower
// index on exact ties so predictions stay deterministic.
func Argmax(probs []float64) int {
	best := 0
	for i, p := range probs {
		if p > probs[best] {
			best = i
		}
	}
	return best
}
