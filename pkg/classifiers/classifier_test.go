package classifiers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stub predicts the class whose index matches the sign of the first feature
// and records how many rows it was trained on.
type stub struct {
	fitRows int
	trained bool
}

func (s *stub) Fit(X [][]float64, y []int, classes int) error {
	s.fitRows = len(X)
	s.trained = true
	return nil
}

func (s *stub) Predict(sample []float64) (int, []float64, error) {
	if !s.trained {
		return 0, nil, ErrNotTrained
	}
	if sample[0] >= 0 {
		return 1, []float64{0.2, 0.8}, nil
	}
	return 0, []float64{0.9, 0.1}, nil
}

func (s *stub) Save() ([]byte, error) { return []byte("stub"), nil }
func (s *stub) Load([]byte) error     { s.trained = true; return nil }

func signData(n int) ([][]float64, []int) {
	X := make([][]float64, n)
	y := make([]int, n)
	for i := range X {
		v := float64(i%7) - 3
		X[i] = []float64{v}
		if v >= 0 {
			y[i] = 1
		}
	}
	return X, y
}

func TestEnsembleTrain(t *testing.T) {
	X, y := signData(100)

	e := NewEnsemble()
	s := &stub{}
	e.Register("stub", s)

	results, err := e.Train(X, y, 2)
	require.NoError(t, err)

	m, ok := results["stub"]
	require.True(t, ok)
	assert.Equal(t, 80, s.fitRows, "80/20 split")
	assert.Equal(t, 1.0, m.Accuracy, "stub is exact on sign data")
	require.Len(t, m.PerClass, 2)
	assert.Equal(t, 20, m.PerClass[0].Support+m.PerClass[1].Support)
	for _, cm := range m.PerClass {
		assert.InDelta(t, 1.0, cm.Precision, 1e-12)
		assert.InDelta(t, 1.0, cm.Recall, 1e-12)
		assert.InDelta(t, 1.0, cm.F1, 1e-12)
	}
}

func TestEnsembleTrainErrors(t *testing.T) {
	e := NewEnsemble()
	e.Register("stub", &stub{})
	X, y := signData(50)

	t.Run("cardinality mismatch", func(t *testing.T) {
		_, err := e.Train(X, y[:20], 2)
		assert.ErrorIs(t, err, ErrCardinalityMismatch)
	})

	t.Run("too few samples", func(t *testing.T) {
		_, err := e.Train(X[:1], y[:1], 2)
		assert.Error(t, err)
	})

	t.Run("too few classes", func(t *testing.T) {
		_, err := e.Train(X, y, 1)
		assert.Error(t, err)
	})
}

func TestEnsemblePredict(t *testing.T) {
	e := NewEnsemble()
	e.Register("stub", &stub{trained: true})

	pred, probs, err := e.Predict([]float64{2}, "stub")
	require.NoError(t, err)
	assert.Equal(t, 1, pred)
	assert.Equal(t, []float64{0.2, 0.8}, probs)

	_, _, err = e.Predict([]float64{2}, "missing")
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestEnsembleNamesAndModel(t *testing.T) {
	e := NewEnsemble()
	e.Register("neural_network", &stub{})
	e.Register("random_forest", &stub{})
	e.Register("svm", &stub{})

	assert.Equal(t, []string{"neural_network", "random_forest", "svm"}, e.Names())

	_, err := e.Model("random_forest")
	require.NoError(t, err)
	_, err = e.Model("gradient_boost")
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestSplitDeterministic(t *testing.T) {
	X, y := signData(50)

	aX, aY, atX, atY := split(X, y, 42)
	bX, bY, btX, btY := split(X, y, 42)
	assert.Equal(t, aX, bX)
	assert.Equal(t, aY, bY)
	assert.Equal(t, atX, btX)
	assert.Equal(t, atY, btY)

	cX, _, _, _ := split(X, y, 7)
	assert.NotEqual(t, aX, cX, "different seed shuffles differently")
}

func TestArgmax(t *testing.T) {
	assert.Equal(t, 2, Argmax([]float64{0.1, 0.2, 0.7}))
	assert.Equal(t, 0, Argmax([]float64{0.5, 0.5}), "ties prefer the lower index")
	assert.Equal(t, 0, Argmax([]float64{1}))
}
