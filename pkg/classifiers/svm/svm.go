// Package svm implements an RBF-kernel classifier. The kernel is
// approximated with random Fourier features (Rahimi & Recht) and a softmax
// layer is trained on top, which keeps prediction cheap and yields calibrated
// probability vectors directly.
package svm

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/hed1ad/gothreatml/pkg/classifiers"
)

// Machine is a kernel classifier over random Fourier features.
type Machine struct {
	mu sync.RWMutex

	// Configuration
	components int
	gamma      float64 // 0 means 1/dim, resolved at fit time
	epochs     int
	learnRate  float64
	seed       int64

	// Trained model
	classes int
	dim     int
	omega   [][]float64 // components x dim projection
	phase   []float64   // components
	weights [][]float64 // classes x components
	bias    []float64   // classes
	trained bool
}

// Option configures a Machine.
type Option func(*Machine)

// WithComponents sets the number of random Fourier features.
func WithComponents(n int) Option {
	return func(m *Machine) {
		m.components = n
	}
}

// WithGamma sets the RBF kernel width. Zero selects 1/dim at fit time.
func WithGamma(g float64) Option {
	return func(m *Machine) {
		m.gamma = g
	}
}

// WithEpochs sets the number of SGD passes.
func WithEpochs(n int) Option {
	return func(m *Machine) {
		m.epochs = n
	}
}

// WithLearnRate sets the initial SGD step size.
func WithLearnRate(lr float64) Option {
	return func(m *Machine) {
		m.learnRate = lr
	}
}

// WithSeed sets the random seed for reproducible training.
func WithSeed(seed int64) Option {
	return func(m *Machine) {
		m.seed = seed
	}
}

// New creates a Machine with the given options.
func New(opts ...Option) *Machine {
	m := &Machine{
		components: 256,
		epochs:     30,
		learnRate:  0.1,
		seed:       42,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Fit draws the random feature map and trains the softmax layer with
// seeded SGD. A fixed seed always yields the same machine.
func (m *Machine) Fit(X [][]float64, y []int, classes int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(X) == 0 {
		return errors.New("empty training data")
	}
	if len(X) != len(y) {
		return fmt.Errorf("%w: %d rows, %d labels", classifiers.ErrCardinalityMismatch, len(X), len(y))
	}

	dim := len(X[0])
	gamma := m.gamma
	if gamma == 0 {
		gamma = 1 / float64(dim)
	}
	rng := rand.New(rand.NewSource(m.seed))

	// Feature map for k(x,y)=exp(-gamma*||x-y||^2): omega ~ N(0, 2*gamma*I),
	// phase ~ U[0, 2pi), z_j(x) = sqrt(2/D) * cos(omega_j . x + phase_j).
	sigma := math.Sqrt(2 * gamma)
	omega := make([][]float64, m.components)
	phase := make([]float64, m.components)
	for j := range omega {
		row := make([]float64, dim)
		for d := range row {
			row[d] = rng.NormFloat64() * sigma
		}
		omega[j] = row
		phase[j] = rng.Float64() * 2 * math.Pi
	}

	m.dim = dim
	m.classes = classes
	m.omega = omega
	m.phase = phase

	// Precompute the transformed training set.
	Z := make([][]float64, len(X))
	for i, row := range X {
		Z[i] = m.transform(row)
	}

	weights := make([][]float64, classes)
	for c := range weights {
		weights[c] = make([]float64, m.components)
	}
	bias := make([]float64, classes)

	order := make([]int, len(Z))
	for i := range order {
		order[i] = i
	}

	probs := make([]float64, classes)
	for epoch := 0; epoch < m.epochs; epoch++ {
		lr := m.learnRate / (1 + 0.05*float64(epoch))
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		for _, i := range order {
			z := Z[i]
			softmaxInto(probs, weights, bias, z)
			for c := 0; c < classes; c++ {
				grad := probs[c]
				if c == y[i] {
					grad -= 1
				}
				if grad == 0 {
					continue
				}
				step := lr * grad
				wc := weights[c]
				for j, zj := range z {
					wc[j] -= step * zj
				}
				bias[c] -= step
			}
		}
	}

	m.weights = weights
	m.bias = bias
	m.trained = true
	return nil
}

// Predict maps the sample through the random feature map and the softmax layer.
func (m *Machine) Predict(sample []float64) (int, []float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.trained {
		return 0, nil, classifiers.ErrNotTrained
	}
	if len(sample) != m.dim {
		return 0, nil, fmt.Errorf("expected %d features, got %d", m.dim, len(sample))
	}

	z := m.transform(sample)
	probs := make([]float64, m.classes)
	softmaxInto(probs, m.weights, m.bias, z)
	return classifiers.Argmax(probs), probs, nil
}

func (m *Machine) transform(x []float64) []float64 {
	scale := math.Sqrt(2 / float64(m.components))
	z := make([]float64, m.components)
	for j, row := range m.omega {
		dot := m.phase[j]
		for d, v := range x {
			dot += row[d] * v
		}
		z[j] = scale * math.Cos(dot)
	}
	return z
}

// softmaxInto writes the class distribution for input z into out.
func softmaxInto(out []float64, weights [][]float64, bias []float64, z []float64) {
	maxLogit := math.Inf(-1)
	for c := range out {
		logit := bias[c]
		wc := weights[c]
		for j, zj := range z {
			logit += wc[j] * zj
		}
		out[c] = logit
		if logit > maxLogit {
			maxLogit = logit
		}
	}
	var sum float64
	for c, logit := range out {
		e := math.Exp(logit - maxLogit)
		out[c] = e
		sum += e
	}
	for c := range out {
		out[c] /= sum
	}
}

// machineState is the gob wire format for a trained machine.
type machineState struct {
	Components int
	Gamma      float64
	Seed       int64
	Classes    int
	Dim        int
	Omega      [][]float64
	Phase      []float64
	Weights    [][]float64
	Bias       []float64
}

// Save serializes the trained machine.
func (m *Machine) Save() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.trained {
		return nil, classifiers.ErrNotTrained
	}

	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(machineState{
		Components: m.components,
		Gamma:      m.gamma,
		Seed:       m.seed,
		Classes:    m.classes,
		Dim:        m.dim,
		Omega:      m.omega,
		Phase:      m.phase,
		Weights:    m.weights,
		Bias:       m.bias,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load deserializes a trained machine.
func (m *Machine) Load(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var st machineState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return err
	}
	if st.Classes == 0 || len(st.Omega) == 0 || len(st.Weights) == 0 {
		return errors.New("machine state is incomplete")
	}

	m.components = st.Components
	m.gamma = st.Gamma
	m.seed = st.Seed
	m.classes = st.Classes
	m.dim = st.Dim
	m.omega = st.Omega
	m.phase = st.Phase
	m.weights = st.Weights
	m.bias = st.Bias
	m.trained = true
	return nil
}
