package detector

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/gothreatml/pkg/classifiers"
	"github.com/hed1ad/gothreatml/pkg/classifiers/forest"
	"github.com/hed1ad/gothreatml/pkg/dataset"
)

// forestOnly keeps test training cheap by registering a single small model.
func forestOnly(seed int64) map[string]classifiers.Classifier {
	return map[string]classifiers.Classifier{
		"random_forest": forest.New(
			forest.WithSeed(seed),
			forest.WithTrees(15),
			forest.WithMaxDepth(6),
		),
	}
}

func trainedDetector(t *testing.T) *Detector {
	t.Helper()
	d := New(WithClassifiers(forestOnly))
	metrics, err := d.Train(dataset.Synthetic(7, 400))
	require.NoError(t, err)
	require.Contains(t, metrics, "random_forest")
	require.True(t, d.Ready())
	return d
}

func TestDetectorTrainValidation(t *testing.T) {
	tests := []struct {
		name string
		ds   *dataset.Dataset
	}{
		{name: "nil dataset", ds: nil},
		{name: "empty dataset", ds: &dataset.Dataset{Fields: dataset.SyntheticFields()}},
		{
			name: "misaligned labels",
			ds: &dataset.Dataset{
				Fields:  dataset.SyntheticFields(),
				Records: dataset.Synthetic(1, 10).Records,
				Labels:  []string{"normal"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(WithClassifiers(forestOnly))
			_, err := d.Train(tt.ds)
			assert.Error(t, err)
			assert.False(t, d.Ready())
		})
	}
}

func TestDetectorPredictOne(t *testing.T) {
	d := trainedDetector(t)

	t.Run("named fields", func(t *testing.T) {
		pred, err := d.PredictOne(Input{Fields: dataset.Record{
			"protocol_type": "tcp",
			"service":       "http",
			"flag":          "S0",
			"serror_rate":   0.9,
			"rerror_rate":   0.8,
			"count":         30,
		}}, "")
		require.NoError(t, err)
		assert.Contains(t, d.Classes(), pred.Class)
		assert.Equal(t, pred.Confidence, pred.Probabilities[pred.Class])

		sum := 0.0
		for _, p := range pred.Probabilities {
			sum += p
		}
		assert.InDelta(t, 1.0, sum, 1e-6)
	})

	t.Run("raw vector", func(t *testing.T) {
		vec := make([]float64, len(d.Schema()))
		pred, err := d.PredictOne(Input{Vector: vec}, "random_forest")
		require.NoError(t, err)
		assert.NotEmpty(t, pred.Class)
	})

	t.Run("wrong vector length", func(t *testing.T) {
		_, err := d.PredictOne(Input{Vector: []float64{1, 2, 3}}, "")
		assert.ErrorIs(t, err, ErrFeatureCount)
	})

	t.Run("unknown model", func(t *testing.T) {
		vec := make([]float64, len(d.Schema()))
		_, err := d.PredictOne(Input{Vector: vec}, "gradient_boost")
		assert.ErrorIs(t, err, classifiers.ErrUnknownModel)
	})

	t.Run("empty input", func(t *testing.T) {
		_, err := d.PredictOne(Input{}, "")
		assert.ErrorIs(t, err, ErrEmptyInput)
	})

	t.Run("untrained detector", func(t *testing.T) {
		_, err := New().PredictOne(Input{Vector: []float64{0}}, "")
		assert.ErrorIs(t, err, ErrNotReady)
	})
}

func TestBundleRoundTrip(t *testing.T) {
	dir := t.TempDir()
	d := trainedDetector(t)
	require.NoError(t, d.SaveBundle(dir))

	for _, name := range []string{
		"random_forest", scalerArtifact, labelEncoderArtifact, featureNamesArtifact,
	} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, "artifact %s", name)
	}

	restored := New(WithClassifiers(forestOnly))
	require.NoError(t, restored.LoadBundle(dir))
	assert.Equal(t, d.Classes(), restored.Classes())
	assert.Equal(t, d.Schema(), restored.Schema())

	probe := dataset.Synthetic(99, 20)
	for _, rec := range probe.Records {
		want, err := d.PredictOne(Input{Fields: rec}, "")
		require.NoError(t, err)
		got, err := restored.PredictOne(Input{Fields: rec}, "")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestBundleIncomplete(t *testing.T) {
	dir := t.TempDir()
	d := trainedDetector(t)
	require.NoError(t, d.SaveBundle(dir))
	require.NoError(t, os.Remove(filepath.Join(dir, scalerArtifact)))

	fresh := New(WithClassifiers(forestOnly))
	err := fresh.LoadBundle(dir)
	assert.ErrorIs(t, err, ErrIncompleteBundle)
	assert.False(t, fresh.Ready())

	// A failed load must not clobber an already trained detector.
	trained := trainedDetector(t)
	before, err := trained.PredictOne(Input{Fields: dataset.Synthetic(3, 1).Records[0]}, "")
	require.NoError(t, err)
	assert.ErrorIs(t, trained.LoadBundle(dir), ErrIncompleteBundle)
	after, err := trained.PredictOne(Input{Fields: dataset.Synthetic(3, 1).Records[0]}, "")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestBundleCorruptModel(t *testing.T) {
	dir := t.TempDir()
	d := trainedDetector(t)
	require.NoError(t, d.SaveBundle(dir))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "random_forest"), []byte("junk"), 0o644))

	fresh := New(WithClassifiers(forestOnly))
	assert.ErrorIs(t, fresh.LoadBundle(dir), ErrIncompleteBundle)
}

func TestSaveBundleUntrained(t *testing.T) {
	assert.ErrorIs(t, New().SaveBundle(t.TempDir()), ErrNotReady)
}

// TestFullEnsembleEndToEnd trains all three models on the full synthetic
// corpus and checks that an obvious privilege-escalation record scores u2r
// well above normal.
func TestFullEnsembleEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("full ensemble training is slow")
	}

	d := New()
	ds := dataset.Synthetic(42, 10000)
	metrics, err := d.Train(ds)
	require.NoError(t, err)
	require.Len(t, metrics, 3)
	for name, m := range metrics {
		assert.Greater(t, m.Accuracy, 0.80, "model %s", name)
	}
	assert.ElementsMatch(t, []string{"dos", "normal", "probe", "u2r"}, d.Classes())

	escalation := dataset.Record{
		"duration":             12.0,
		"protocol_type":        "tcp",
		"service":              "ssh",
		"flag":                 "SF",
		"src_bytes":            300.0,
		"dst_bytes":            1500.0,
		"land":                 0,
		"wrong_fragment":       0,
		"urgent":               0,
		"num_failed_logins":    5,
		"logged_in":            1,
		"root_shell":           1,
		"su_attempted":         1,
		"count":                4,
		"srv_count":            4,
		"serror_rate":          0.0,
		"rerror_rate":          0.0,
		"dst_host_serror_rate": 0.0,
	}
	pred, err := d.PredictOne(Input{Fields: escalation}, "random_forest")
	require.NoError(t, err)
	assert.Greater(t, pred.Probabilities["u2r"], pred.Probabilities["normal"])

	dir := t.TempDir()
	require.NoError(t, d.SaveBundle(dir))
	restored := New()
	require.NoError(t, restored.LoadBundle(dir))
	got, err := restored.PredictOne(Input{Fields: escalation}, "random_forest")
	require.NoError(t, err)
	assert.Equal(t, pred, got)
}
