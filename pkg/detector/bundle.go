package detector

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hed1ad/gothreatml/pkg/features"
)

// Codec and label artifacts stored next to the per-model files.
const (
	scalerArtifact       = "scaler"
	labelEncoderArtifact = "label_encoder"
	featureNamesArtifact = "feature_names"
)

// SaveBundle writes the fitted state to dir: one gob file per model plus
// JSON files for the scaler, the label encoder and the feature schema.
func (d *Detector) SaveBundle(dir string) error {
	d.mu.RLock()
	b := d.bundle
	d.mu.RUnlock()
	if b == nil {
		return ErrNotReady
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create bundle dir: %w", err)
	}

	for _, name := range b.ensemble.Names() {
		model, err := b.ensemble.Model(name)
		if err != nil {
			return err
		}
		data, err := model.Save()
		if err != nil {
			return fmt.Errorf("serialize %s: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}

	if err := writeJSON(filepath.Join(dir, scalerArtifact), b.codec.ScalerState()); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, labelEncoderArtifact), b.labels); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, featureNamesArtifact), b.codec.SchemaState())
}

// LoadBundle restores fitted state from dir. All artifacts are
// presence-checked before anything is parsed, and the serving bundle is
// only replaced after every artifact loads cleanly; on any error the
// detector keeps its previous state.
func (d *Detector) LoadBundle(dir string) error {
	ensemble := d.newEnsemble()

	artifacts := append(ensemble.Names(),
		scalerArtifact, labelEncoderArtifact, featureNamesArtifact)
	var missing []string
	for _, name := range artifacts {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %v in %s", ErrIncompleteBundle, missing, dir)
	}

	var scaler features.ScalerState
	if err := readJSON(filepath.Join(dir, scalerArtifact), &scaler); err != nil {
		return fmt.Errorf("%w: %v", ErrIncompleteBundle, err)
	}
	var schema features.SchemaState
	if err := readJSON(filepath.Join(dir, featureNamesArtifact), &schema); err != nil {
		return fmt.Errorf("%w: %v", ErrIncompleteBundle, err)
	}
	codec, err := features.CodecFromState(schema, scaler)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIncompleteBundle, err)
	}

	labels := &features.Labels{}
	if err := readJSON(filepath.Join(dir, labelEncoderArtifact), labels); err != nil {
		return fmt.Errorf("%w: %v", ErrIncompleteBundle, err)
	}

	for _, name := range ensemble.Names() {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrIncompleteBundle, err)
		}
		model, err := ensemble.Model(name)
		if err != nil {
			return err
		}
		if err := model.Load(data); err != nil {
			return fmt.Errorf("%w: load %s: %v", ErrIncompleteBundle, name, err)
		}
	}

	d.mu.Lock()
	d.bundle = &bundle{codec: codec, labels: labels, ensemble: ensemble}
	d.mu.Unlock()
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}
