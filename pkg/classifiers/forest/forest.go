// Package forest implements a random forest classifier: bagged CART trees
// with gini splits and averaged leaf class distributions.
package forest

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/hed1ad/gothreatml/pkg/classifiers"
)

// Forest is a bagged ensemble of classification trees.
type Forest struct {
	mu sync.RWMutex

	// Configuration
	nTrees   int
	maxDepth int
	minLeaf  int
	seed     int64

	// Trained model
	classes int
	dim     int
	roots   []*treeNode
	trained bool
}

// treeNode is one node of a classification tree. Leaves carry a class
// distribution and have no children. Fields are exported for gob.
type treeNode struct {
	Feature   int
	Threshold float64
	Left      *treeNode
	Right     *treeNode
	Dist      []float64
}

// Option configures a Forest.
type Option func(*Forest)

// WithTrees sets the number of trees.
func WithTrees(n int) Option {
	return func(f *Forest) {
		f.nTrees = n
	}
}

// WithMaxDepth caps tree depth.
func WithMaxDepth(d int) Option {
	return func(f *Forest) {
		f.maxDepth = d
	}
}

// WithMinLeaf sets the minimum samples required to keep splitting a node.
func WithMinLeaf(n int) Option {
	return func(f *Forest) {
		f.minLeaf = n
	}
}

// WithSeed sets the random seed for reproducible training.
func WithSeed(seed int64) Option {
	return func(f *Forest) {
		f.seed = seed
	}
}

// New creates a Forest with the given options.
func New(opts ...Option) *Forest {
	f := &Forest{
		nTrees:   100,
		maxDepth: 12,
		minLeaf:  2,
		seed:     42,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fit trains the forest. Each tree is grown on a bootstrap sample and
// considers a random sqrt(d)-sized feature subset at every split. Training
// is sequential so a fixed seed always yields the same forest.
func (f *Forest) Fit(X [][]float64, y []int, classes int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(X) == 0 {
		return errors.New("empty training data")
	}
	if len(X) != len(y) {
		return fmt.Errorf("%w: %d rows, %d labels", classifiers.ErrCardinalityMismatch, len(X), len(y))
	}

	n := len(X)
	dim := len(X[0])
	mtry := int(math.Ceil(math.Sqrt(float64(dim))))
	rng := rand.New(rand.NewSource(f.seed))

	b := &builder{
		X:        X,
		y:        y,
		classes:  classes,
		mtry:     mtry,
		maxDepth: f.maxDepth,
		minLeaf:  f.minLeaf,
		rng:      rng,
	}

	roots := make([]*treeNode, f.nTrees)
	for t := 0; t < f.nTrees; t++ {
		// Bootstrap sample with replacement.
		idx := make([]int, n)
		for i := range idx {
			idx[i] = rng.Intn(n)
		}
		roots[t] = b.grow(idx, 0)
	}

	f.classes = classes
	f.dim = dim
	f.roots = roots
	f.trained = true
	return nil
}

// Predict averages the leaf class distributions of all trees.
func (f *Forest) Predict(sample []float64) (int, []float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return 0, nil, classifiers.ErrNotTrained
	}
	if len(sample) != f.dim {
		return 0, nil, fmt.Errorf("expected %d features, got %d", f.dim, len(sample))
	}

	probs := make([]float64, f.classes)
	for _, root := range f.roots {
		leaf := descend(root, sample)
		for c, p := range leaf.Dist {
			probs[c] += p
		}
	}
	inv := 1 / float64(len(f.roots))
	for c := range probs {
		probs[c] *= inv
	}
	return classifiers.Argmax(probs), probs, nil
}

func descend(n *treeNode, sample []float64) *treeNode {
	for n.Left != nil {
		if sample[n.Feature] < n.Threshold {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	return n
}

// builder grows one tree at a time over shared training data.
type builder struct {
	X        [][]float64
	y        []int
	classes  int
	mtry     int
	maxDepth int
	minLeaf  int
	rng      *rand.Rand
}

func (b *builder) grow(idx []int, depth int) *treeNode {
	counts := make([]int, b.classes)
	for _, i := range idx {
		counts[b.y[i]]++
	}

	if depth >= b.maxDepth || len(idx) <= b.minLeaf || isPure(counts) {
		return leaf(counts, len(idx))
	}

	feature, threshold, ok := b.bestSplit(idx, counts)
	if !ok {
		return leaf(counts, len(idx))
	}

	var left, right []int
	for _, i := range idx {
		if b.X[i][feature] < threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return leaf(counts, len(idx))
	}

	return &treeNode{
		Feature:   feature,
		Threshold: threshold,
		Left:      b.grow(left, depth+1),
		Right:     b.grow(right, depth+1),
	}
}

// bestSplit searches a random feature subset for the threshold with the
// lowest weighted gini impurity.
func (b *builder) bestSplit(idx []int, counts []int) (feature int, threshold float64, ok bool) {
	n := len(idx)
	parent := gini(counts, n)
	bestGain := 1e-9

	order := make([]int, n)
	for _, fi := range b.rng.Perm(len(b.X[0]))[:b.mtry] {
		copy(order, idx)
		sort.Slice(order, func(a, c int) bool { return b.X[order[a]][fi] < b.X[order[c]][fi] })

		leftCounts := make([]int, b.classes)
		rightCounts := make([]int, b.classes)
		copy(rightCounts, counts)

		for pos := 0; pos < n-1; pos++ {
			c := b.y[order[pos]]
			leftCounts[c]++
			rightCounts[c]--

			cur, next := b.X[order[pos]][fi], b.X[order[pos+1]][fi]
			if cur == next {
				continue
			}

			nl := pos + 1
			nr := n - nl
			weighted := (float64(nl)*gini(leftCounts, nl) + float64(nr)*gini(rightCounts, nr)) / float64(n)
			if gain := parent - weighted; gain > bestGain {
				bestGain = gain
				feature = fi
				threshold = (cur + next) / 2
				ok = true
			}
		}
	}
	return feature, threshold, ok
}

func gini(counts []int, n int) float64 {
	if n == 0 {
		return 0
	}
	sum := 1.0
	for _, c := range counts {
		p := float64(c) / float64(n)
		sum -= p * p
	}
	return sum
}

func isPure(counts []int) bool {
	nonzero := 0
	for _, c := range counts {
		if c > 0 {
			nonzero++
		}
	}
	return nonzero <= 1
}

func leaf(counts []int, n int) *treeNode {
	dist := make([]float64, len(counts))
	for c, cnt := range counts {
		dist[c] = float64(cnt) / float64(n)
	}
	return &treeNode{Dist: dist}
}

// forestState is the gob wire format for a trained forest.
type forestState struct {
	NTrees   int
	MaxDepth int
	MinLeaf  int
	Seed     int64
	Classes  int
	Dim      int
	Roots    []*treeNode
}

// Save serializes the trained forest.
func (f *Forest) Save() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, classifiers.ErrNotTrained
	}

	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(forestState{
		NTrees:   f.nTrees,
		MaxDepth: f.maxDepth,
		MinLeaf:  f.minLeaf,
		Seed:     f.seed,
		Classes:  f.classes,
		Dim:      f.dim,
		Roots:    f.roots,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load deserializes a trained forest.
func (f *Forest) Load(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var st forestState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return err
	}
	if st.Classes == 0 || len(st.Roots) == 0 {
		return errors.New("forest state is incomplete")
	}

	f.nTrees = st.NTrees
	f.maxDepth = st.MaxDepth
	f.minLeaf = st.MinLeaf
	f.seed = st.Seed
	f.classes = st.Classes
	f.dim = st.Dim
	f.roots = st.Roots
	f.trained = true
	return nil
}
