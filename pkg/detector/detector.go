// Package detector ties feature encoding, label encoding and the classifier
// ensemble into one trainable, persistable threat detector.
package detector

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hed1ad/gothreatml/pkg/classifiers"
	"github.com/hed1ad/gothreatml/pkg/classifiers/forest"
	"github.com/hed1ad/gothreatml/pkg/classifiers/mlp"
	"github.com/hed1ad/gothreatml/pkg/classifiers/svm"
	"github.com/hed1ad/gothreatml/pkg/dataset"
	"github.com/hed1ad/gothreatml/pkg/features"
)

var (
	// ErrFeatureCount reports an input vector of the wrong length.
	ErrFeatureCount = errors.New("feature count mismatch")
	// ErrIncompleteBundle reports a bundle directory with missing or
	// mutually inconsistent artifacts.
	ErrIncompleteBundle = errors.New("incomplete model bundle")
	// ErrNotReady reports prediction before training or loading a bundle.
	ErrNotReady = errors.New("detector has no trained bundle")
	// ErrEmptyInput reports an input with neither a vector nor named fields.
	ErrEmptyInput = errors.New("input has no features")
)

// DefaultModel is the model used when a request names none.
const DefaultModel = "random_forest"

// Input is a tagged union: either an explicit ordered raw vector or a
// mapping of named fields. Exactly one side should be set; Vector wins
// when both are.
type Input struct {
	Vector []float64
	Fields dataset.Record
}

// Prediction is the result of scoring one record.
type Prediction struct {
	Class         string             `json:"predicted_class"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities"`
}

// bundle is the complete, mutually consistent fitted state. It is replaced
// wholesale on Train/LoadBundle and never mutated after, so readers can use
// a snapshot without holding the lock.
type bundle struct {
	codec    *features.Codec
	labels   *features.Labels
	ensemble *classifiers.Ensemble
}

// Detector serves predictions from one model bundle.
type Detector struct {
	mu           sync.RWMutex
	bundle       *bundle
	seed         int64
	newClassifiers func(seed int64) map[string]classifiers.Classifier
}

// Option configures a Detector.
type Option func(*Detector)

// WithSeed sets the seed used for training splits and model fitting.
func WithSeed(seed int64) Option {
	return func(d *Detector) {
		d.seed = seed
	}
}

// WithClassifiers overrides the model registry, mostly for tests.
func WithClassifiers(f func(seed int64) map[string]classifiers.Classifier) Option {
	return func(d *Detector) {
		d.newClassifiers = f
	}
}

// New creates a detector with the standard three-model ensemble.
func New(opts ...Option) *Detector {
	d := &Detector{
		seed:         42,
		newClassifiers: defaultClassifiers,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func defaultClassifiers(seed int64) map[string]classifiers.Classifier {
	return map[string]classifiers.Classifier{
		"random_forest":  forest.New(forest.WithSeed(seed)),
		"svm":            svm.New(svm.WithSeed(seed)),
		"neural_network": mlp.New(mlp.WithSeed(seed)),
	}
}

func (d *Detector) newEnsemble() *classifiers.Ensemble {
	e := classifiers.NewEnsemble(classifiers.WithSplitSeed(d.seed))
	for name, c := range d.newClassifiers(d.seed) {
		e.Register(name, c)
	}
	return e
}

// ModelNames returns the names the detector can predict with.
func (d *Detector) ModelNames() []string {
	return d.newEnsemble().Names()
}

// Ready reports whether a bundle is available for prediction.
func (d *Detector) Ready() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.bundle != nil
}

// Train fits the feature codec, label codec and every classifier over the
// same rows. Feature rows and labels stay positionally aligned throughout;
// the ensemble re-checks the cardinality before fitting. On success the
// serving bundle is replaced; on any failure the previous bundle is kept.
func (d *Detector) Train(ds *dataset.Dataset) (map[string]classifiers.Metrics, error) {
	if ds == nil || ds.Len() == 0 {
		return nil, errors.New("empty training dataset")
	}
	if len(ds.Records) != len(ds.Labels) {
		return nil, fmt.Errorf("%w: %d records, %d labels",
			classifiers.ErrCardinalityMismatch, len(ds.Records), len(ds.Labels))
	}

	codec := features.NewCodec()
	if err := codec.Fit(ds); err != nil {
		return nil, fmt.Errorf("fit feature codec: %w", err)
	}
	labels := features.FitLabels(ds.Labels)

	X, err := codec.EncodeAll(ds)
	if err != nil {
		return nil, fmt.Errorf("encode training data: %w", err)
	}
	y, err := labels.EncodeAll(ds.Labels)
	if err != nil {
		return nil, fmt.Errorf("encode labels: %w", err)
	}

	ensemble := d.newEnsemble()
	metrics, err := ensemble.Train(X, y, labels.Count())
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.bundle = &bundle{codec: codec, labels: labels, ensemble: ensemble}
	d.mu.Unlock()
	return metrics, nil
}

// Classes returns the threat-class names of the active bundle.
func (d *Detector) Classes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.bundle == nil {
		return nil
	}
	return d.bundle.labels.Classes()
}

// Schema returns the ordered feature names of the active bundle.
func (d *Detector) Schema() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.bundle == nil {
		return nil
	}
	return d.bundle.codec.Schema()
}

// PredictOne scores a single input with the named model (DefaultModel when
// empty). It only reads fitted state, so concurrent calls never interfere.
func (d *Detector) PredictOne(input Input, modelName string) (*Prediction, error) {
	d.mu.RLock()
	b := d.bundle
	d.mu.RUnlock()
	if b == nil {
		return nil, ErrNotReady
	}
	if modelName == "" {
		modelName = DefaultModel
	}

	var vec []float64
	var err error
	switch {
	case input.Vector != nil:
		if len(input.Vector) != b.codec.Dim() {
			return nil, fmt.Errorf("%w: expected %d features, got %d",
				ErrFeatureCount, b.codec.Dim(), len(input.Vector))
		}
		vec, err = b.codec.EncodeVector(input.Vector)
	case input.Fields != nil:
		vec, err = b.codec.Encode(input.Fields)
	default:
		return nil, ErrEmptyInput
	}
	if err != nil {
		return nil, err
	}

	idx, probs, err := b.ensemble.Predict(vec, modelName)
	if err != nil {
		return nil, err
	}

	class, err := b.labels.Name(idx)
	if err != nil {
		return nil, err
	}

	probabilities := make(map[string]float64, len(probs))
	for i, name := range b.labels.Classes() {
		probabilities[name] = probs[i]
	}

	return &Prediction{
		Class:         class,
		Confidence:    probs[idx],
		Probabilities: probabilities,
	}, nil
}
