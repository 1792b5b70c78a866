package forest

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/gothreatml/pkg/classifiers"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name       string
		opts       []Option
		wantNTrees int
	}{
		{
			name:       "default configuration",
			opts:       nil,
			wantNTrees: 100,
		},
		{
			name:       "custom trees",
			opts:       []Option{WithTrees(25)},
			wantNTrees: 25,
		},
		{
			name:       "multiple options",
			opts:       []Option{WithTrees(50), WithMaxDepth(6), WithMinLeaf(5), WithSeed(7)},
			wantNTrees: 50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.opts...)
			assert.Equal(t, tt.wantNTrees, f.nTrees)
		})
	}
}

func TestFit(t *testing.T) {
	X, y := twoBlobs(200, 4, 42)

	t.Run("empty data", func(t *testing.T) {
		f := New(WithTrees(5))
		assert.Error(t, f.Fit(nil, nil, 2))
	})

	t.Run("cardinality mismatch", func(t *testing.T) {
		f := New(WithTrees(5))
		err := f.Fit(X, y[:10], 2)
		assert.ErrorIs(t, err, classifiers.ErrCardinalityMismatch)
	})

	t.Run("separable blobs", func(t *testing.T) {
		f := New(WithTrees(20), WithSeed(42))
		require.NoError(t, f.Fit(X, y, 2))
		assert.True(t, f.trained)
		assert.Len(t, f.roots, 20)
	})
}

func TestPredict(t *testing.T) {
	X, y := twoBlobs(400, 4, 42)
	f := New(WithTrees(30), WithSeed(42))
	require.NoError(t, f.Fit(X, y, 2))

	t.Run("separates the classes", func(t *testing.T) {
		correct := 0
		for i, sample := range X {
			pred, probs, err := f.Predict(sample)
			require.NoError(t, err)
			require.Len(t, probs, 2)

			var sum float64
			for _, p := range probs {
				assert.GreaterOrEqual(t, p, 0.0)
				assert.LessOrEqual(t, p, 1.0)
				sum += p
			}
			assert.InDelta(t, 1.0, sum, 1e-6)
			assert.Equal(t, pred, classifiers.Argmax(probs))

			if pred == y[i] {
				correct++
			}
		}
		assert.Greater(t, float64(correct)/float64(len(X)), 0.95)
	})

	t.Run("wrong dimension", func(t *testing.T) {
		_, _, err := f.Predict([]float64{1, 2})
		assert.Error(t, err)
	})

	t.Run("before fit", func(t *testing.T) {
		_, _, err := New().Predict(X[0])
		assert.ErrorIs(t, err, classifiers.ErrNotTrained)
	})
}

func TestFitDeterministic(t *testing.T) {
	X, y := twoBlobs(200, 3, 1)

	a := New(WithTrees(15), WithSeed(42))
	b := New(WithTrees(15), WithSeed(42))
	require.NoError(t, a.Fit(X, y, 2))
	require.NoError(t, b.Fit(X, y, 2))

	for _, sample := range X[:20] {
		_, pa, err := a.Predict(sample)
		require.NoError(t, err)
		_, pb, err := b.Predict(sample)
		require.NoError(t, err)
		assert.Equal(t, pa, pb)
	}
}

func TestSaveLoad(t *testing.T) {
	X, y := twoBlobs(300, 4, 42)
	original := New(WithTrees(20), WithSeed(42))
	require.NoError(t, original.Fit(X, y, 2))

	data, err := original.Save()
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	loaded := New()
	require.NoError(t, loaded.Load(data))

	for _, sample := range X[:50] {
		predA, probsA, err := original.Predict(sample)
		require.NoError(t, err)
		predB, probsB, err := loaded.Predict(sample)
		require.NoError(t, err)
		assert.Equal(t, predA, predB)
		assert.Equal(t, probsA, probsB, "loaded forest must predict bit-identically")
	}

	t.Run("save before fit", func(t *testing.T) {
		_, err := New().Save()
		assert.ErrorIs(t, err, classifiers.ErrNotTrained)
	})

	t.Run("load garbage", func(t *testing.T) {
		assert.Error(t, New().Load([]byte("not gob")))
	})
}

func BenchmarkFit(b *testing.B) {
	X, y := twoBlobs(2000, 10, 42)
	f := New(WithTrees(50))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Fit(X, y, 2)
	}
}

func BenchmarkPredict(b *testing.B) {
	X, y := twoBlobs(2000, 10, 42)
	f := New(WithTrees(50))
	f.Fit(X, y, 2)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Predict(X[i%len(X)])
	}
}

// twoBlobs generates two gaussian clusters centered at ±2 on every axis.
func twoBlobs(n, dim int, seed int64) ([][]float64, []int) {
	rng := rand.New(rand.NewSource(seed))
	X := make([][]float64, n)
	y := make([]int, n)
	for i := range X {
		class := i % 2
		center := 2.0
		if class == 0 {
			center = -2.0
		}
		row := make([]float64, dim)
		for j := range row {
			row[j] = center + rng.NormFloat64()
		}
		X[i] = row
		y[i] = class
	}
	return X, y
}

func TestGini(t *testing.T) {
	assert.InDelta(t, 0.5, gini([]int{5, 5}, 10), 1e-12)
	assert.InDelta(t, 0.0, gini([]int{10, 0}, 10), 1e-12)
	assert.InDelta(t, 0.0, gini(nil, 0), 1e-12)
	assert.False(t, math.IsNaN(gini([]int{0, 0}, 0)))
}
