// Package mlp implements a feed-forward neural network classifier with two
// ReLU hidden layers and a softmax output, trained by seeded SGD.
package mlp

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

// Network is a fully-connected classifier network.
type Network struct {
	mu sync.RWMutex

	// Configuration
	hidden    []int
	epochs    int
	learnRate float64
	seed      int64

	// Trained model: weights[l][i][j] connects unit j of layer l to unit i
	// of layer l+1; sizes is the full layer layout including input/output.
	sizes   []int
	weights [][][]float64
	biases  [][]float64
	classes int
	trained bool
}

// Option configures a Network.
type Option func(*Network)

// WithHidden sets the hidden layer sizes.
func WithHidden(sizes ...int) Option {
	return func(n *Network) {
		n.hidden = sizes
	}
}

// WithEpochs sets the number of SGD passes.
func WithEpochs(e int) Option {
	return func(n *Network) {
		n.epochs = e
	}
}

// WithLearnRate sets the initial SGD step size.
func WithLearnRate(lr float64) Option {
	return func(n *Network) {
		n.learnRate = lr
	}
}

// WithSeed sets the random seed for reproducible training.
func WithSeed(seed int64) Option {
	return func(n *Network) {
		n.seed = seed
	}
}

// New creates a Network with the given options.
func New(opts ...Option) *Network {
	n := &Network{
		hidden:    []int{100, 50},
		epochs:    10,
		learnRate: 0.01,
		seed:      42,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Fit trains the network with per-sample SGD over shuffled epochs.
func (n *Network) Fit(X [][]float64, y []int, classes int) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(X) == 0 {
		return errors.New("empty training data")
	}
	if len(X) != len(y) {
		return fmt.Errorf("%w: %d rows, %d labels", classifiers.ErrCardinalityMismatch, len(X), len(y))
	}

	dim := len(X[0])
	sizes := append([]int{dim}, n.hidden...)
	sizes = append(sizes, classes)

	rng := rand.New(rand.NewSource(n.seed))

	// He initialization for the ReLU layers.
	layers := len(sizes) - 1
	weights := make([][][]float64, layers)
	biases := make([][]float64, layers)
	for l := 0; l < layers; l++ {
		in, out := sizes[l], sizes[l+1]
		std := math.Sqrt(2 / float64(in))
		weights[l] = make([][]float64, out)
		biases[l] = make([]float64, out)
		for i := range weights[l] {
			row := make([]float64, in)
			for j := range row {
				row[j] = rng.NormFloat64() * std
			}
			weights[l][i] = row
		}
	}

	// Forward activations and backprop deltas, reused across samples.
	acts := make([][]float64, layers+1)
	deltas := make([][]float64, layers)
	for l := 0; l < layers; l++ {
		acts[l+1] = make([]float64, sizes[l+1])
		deltas[l] = make([]float64, sizes[l+1])
	}

	order := make([]int, len(X))
	for i := range order {
		order[i] = i
	}

	for epoch := 0; epoch < n.epochs; epoch++ {
		lr := n.learnRate / (1 + 0.1*float64(epoch))
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		for _, s := range order {
			acts[0] = X[s]
			forward(weights, biases, acts)

			// Softmax cross-entropy gradient at the output.
			out := acts[layers]
			dOut := deltas[layers-1]
			for c := range out {
				dOut[c] = out[c]
				if c == y[s] {
					dOut[c] -= 1
				}
			}

			// Backpropagate through the ReLU hidden layers.
			for l := layers - 2; l >= 0; l-- {
				d := deltas[l]
				next := deltas[l+1]
				wNext := weights[l+1]
				for j := range d {
					if acts[l+1][j] <= 0 {
						d[j] = 0
						continue
					}
					var sum float64
					for i := range next {
						sum += wNext[i][j] * next[i]
					}
					d[j] = sum
				}
			}

			// Gradient step.
			for l := 0; l < layers; l++ {
				in := acts[l]
				d := deltas[l]
				for i := range d {
					if d[i] == 0 {
						continue
					}
					step := lr * d[i]
					row := weights[l][i]
					for j := range row {
						row[j] -= step * in[j]
					}
					biases[l][i] -= step
				}
			}
		}
	}

	n.sizes = sizes
	n.weights = weights
	n.biases = biases
	n.classes = classes
	n.trained = true
	return nil
}

// Predict runs a forward pass and returns the softmax distribution.
func (n *Network) Predict(sample []float64) (int, []float64, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if !n.trained {
		return 0, nil, classifiers.ErrNotTrained
	}
	if len(sample) != n.sizes[0] {
		return 0, nil, fmt.Errorf("expected %d features, got %d", n.sizes[0], len(sample))
	}

	layers := len(n.sizes) - 1
	acts := make([][]float64, layers+1)
	acts[0] = sample
	for l := 0; l < layers; l++ {
		acts[l+1] = make([]float64, n.sizes[l+1])
	}
	forward(n.weights, n.biases, acts)

	probs := acts[layers]
	return classifiers.Argmax(probs), probs, nil
}

// forward fills acts[1:] given acts[0]; hidden layers use ReLU, the final
// layer a numerically stable softmax.
func forward(weights [][][]float64, biases [][]float64, acts [][]float64) {
	layers := len(weights)
	for l := 0; l < layers; l++ {
		in := acts[l]
		out := acts[l+1]
		for i, row := range weights[l] {
			sum := biases[l][i]
			for j, v := range in {
				sum += row[j] * v
			}
			if l < layers-1 && sum < 0 {
				sum = 0 // ReLU
			}
			out[i] = sum
		}
	}

	// Softmax on the output layer.
	out := acts[layers]
	maxLogit := math.Inf(-1)
	for _, v := range out {
		if v > maxLogit {
			maxLogit = v
		}
	}
	var sum float64
	for i, v := range out {
		e := math.Exp(v - maxLogit)
		out[i] = e
		sum += e
	}
	for i := range out {
		out[i] /= sum
	}
}

// networkState is the gob wire format for a trained network.
type networkState struct {
	Sizes   []int
	Weights [][][]float64
	Biases  [][]float64
	Classes int
	Seed    int64
}

// Save serializes the trained network.
func (n *Network) Save() ([]byte, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if !n.trained {
		return nil, classifiers.ErrNotTrained
	}

	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(networkState{
		Sizes:   n.sizes,
		Weights: n.weights,
		Biases:  n.biases,
		Classes: n.classes,
		Seed:    n.seed,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load deserializes a trained network.
func (n *Network) Load(data []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	var st networkState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return err
	}
	if len(st.Sizes) < 2 || len(st.Weights) == 0 {
		return errors.New("network state is incomplete")
	}

	n.sizes = st.Sizes
	n.weights = st.Weights
	n.biases = st.Biases
	n.classes = st.Classes
	n.seed = st.Seed
	n.trained = true
	return nil
}
