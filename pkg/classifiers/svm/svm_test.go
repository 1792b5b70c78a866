package svm

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
		name           string
		opts           []Option
		wantComponents int
	}{
		{
			name:           "default configuration",
			opts:           nil,
			wantComponents: 256,
		},
		{
			name:           "custom components",
			opts:           []Option{WithComponents(64)},
			wantComponents: 64,
		},
		{
			name:           "multiple options",
			opts:           []Option{WithComponents(128), WithGamma(0.5), WithEpochs(5), WithSeed(7)},
			wantComponents: 128,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(tt.opts...)
			assert.Equal(t, tt.wantComponents, m.components)
		})
	}
}

func TestFitErrors(t *testing.T) {
	m := New(WithComponents(16), WithEpochs(2))
	assert.Error(t, m.Fit(nil, nil, 2))

	X, y := rings(50, 42)
	err := m.Fit(X, y[:20], 2)
	assert.ErrorIs(t, err, classifiers.ErrCardinalityMismatch)
}

func TestPredict(t *testing.T) {
	// Concentric rings are not linearly separable; the RBF feature map
	// has to do the work here.
	X, y := rings(600, 42)
	m := New(WithComponents(200), WithEpochs(40), WithSeed(42))
	require.NoError(t, m.Fit(X, y, 2))

	correct := 0
	for i, sample := range X {
		pred, probs, err := m.Predict(sample)
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
	assert.Greater(t, float64(correct)/float64(len(X)), 0.9)

	t.Run("wrong dimension", func(t *testing.T) {
		_, _, err := m.Predict([]float64{1})
		assert.Error(t, err)
	})

	t.Run("before fit", func(t *testing.T) {
		_, _, err := New().Predict([]float64{1, 2})
		assert.ErrorIs(t, err, classifiers.ErrNotTrained)
	})
}

func TestFitDeterministic(t *testing.T) {
	X, y := rings(200, 1)

	a := New(WithComponents(64), WithEpochs(10), WithSeed(42))
	b := New(WithComponents(64), WithEpochs(10), WithSeed(42))
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
	X, y := rings(300, 42)
	original := New(WithComponents(64), WithEpochs(10), WithSeed(42))
	require.NoError(t, original.Fit(X, y, 2))

	data, err := original.Save()
	require.NoError(t, err)

	loaded := New()
	require.NoError(t, loaded.Load(data))

	for _, sample := range X[:50] {
		_, probsA, err := original.Predict(sample)
		require.NoError(t, err)
		_, probsB, err := loaded.Predict(sample)
		require.NoError(t, err)
		assert.Equal(t, probsA, probsB, "loaded machine must predict bit-identically")
	}

	t.Run("save before fit", func(t *testing.T) {
		_, err := New().Save()
		assert.ErrorIs(t, err, classifiers.ErrNotTrained)
	})

	t.Run("load garbage", func(t *testing.T) {
		assert.Error(t, New().Load([]byte{0x01, 0x02}))
	})
}

func BenchmarkPredict(b *testing.B) {
	X, y := rings(500, 42)
	m := New(WithComponents(128), WithEpochs(10))
	m.Fit(X, y, 2)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Predict(X[i%len(X)])
	}
}

// rings generates two concentric 2D rings: class 0 at radius ~1, class 1 at
// radius ~3, with mild noise.
func rings(n int, seed int64) ([][]float64, []int) {
	rng := rand.New(rand.NewSource(seed))
	X := make([][]float64, n)
	y := make([]int, n)
	for i := range X {
		class := i % 2
		radius := 1.0
		if class == 1 {
			radius = 3.0
		}
		angle := rng.Float64() * 2 * math.Pi
		r := radius + rng.NormFloat64()*0.15
		X[i] = []float64{r * math.Cos(angle), r * math.Sin(angle)}
		y[i] = class
	}
	return X, y
}
