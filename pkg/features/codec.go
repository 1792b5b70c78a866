// Package features converts raw records into fixed-order numeric vectors
// and maps threat-class names to classifier indices.
package features

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/hed1ad/gothreatml/pkg/dataset"
)

var (
	// ErrSchemaMismatch reports an input whose shape does not match the fitted schema.
	ErrSchemaMismatch = errors.New("feature schema mismatch")
	// ErrNotFitted reports use of a codec before Fit or restore.
	ErrNotFitted = errors.New("codec not fitted")
)

// unknownCode is the categorical code for values not seen during fitting.
const unknownCode = -1

// Codec encodes raw records into standardized feature vectors. Categorical
// vocabularies and scaling parameters are fixed by Fit and immutable after;
// a fitted Codec is safe for concurrent Encode calls.
type Codec struct {
	fields []dataset.Field
	vocab  map[string][]string
	codes  map[string]map[string]float64
	mean   []float64
	stddev []float64
	fitted bool
}

// ScalerState is the serializable standardization parameters.
type ScalerState struct {
	Mean   []float64 `json:"mean"`
	Stddev []float64 `json:"stddev"`
}

// SchemaState is the serializable field ordering and categorical vocabularies.
type SchemaState struct {
	Fields []dataset.Field     `json:"fields"`
	Vocab  map[string][]string `json:"vocab"`
}

// NewCodec returns an unfitted codec.
func NewCodec() *Codec {
	return &Codec{}
}

// Fit derives categorical vocabularies and per-slot scaling parameters from
// the dataset. Vocabularies are stored in sorted order so codes are stable
// across runs. Fit may be called once; it replaces all fitted state.
func (c *Codec) Fit(ds *dataset.Dataset) error {
	if ds == nil || ds.Len() == 0 {
		return errors.New("empty training dataset")
	}

	fields := make([]dataset.Field, len(ds.Fields))
	copy(fields, ds.Fields)

	vocab := make(map[string][]string)
	for _, f := range fields {
		if f.Kind != dataset.Categorical {
			continue
		}
		seen := make(map[string]struct{})
		for _, rec := range ds.Records {
			v, ok := rec[f.Name].(string)
			if !ok {
				return fmt.Errorf("%w: field %q is not categorical in record", ErrSchemaMismatch, f.Name)
			}
			seen[v] = struct{}{}
		}
		values := make([]string, 0, len(seen))
		for v := range seen {
			values = append(values, v)
		}
		sort.Strings(values)
		vocab[f.Name] = values
	}

	c.fields = fields
	c.vocab = vocab
	c.codes = buildCodes(vocab)

	// Raw-encode every row, then fit mean and stddev per slot.
	dim := len(fields)
	mean := make([]float64, dim)
	raw := make([][]float64, ds.Len())
	for i, rec := range ds.Records {
		row, err := c.rawEncode(rec, true)
		if err != nil {
			return err
		}
		raw[i] = row
		for j, v := range row {
			mean[j] += v
		}
	}
	n := float64(ds.Len())
	for j := range mean {
		mean[j] /= n
	}

	stddev := make([]float64, dim)
	for _, row := range raw {
		for j, v := range row {
			d := v - mean[j]
			stddev[j] += d * d
		}
	}
	for j := range stddev {
		stddev[j] = math.Sqrt(stddev[j] / n)
		if stddev[j] == 0 {
			stddev[j] = 1
		}
	}

	c.mean = mean
	c.stddev = stddev
	c.fitted = true
	return nil
}

// Dim returns the fitted vector length.
func (c *Codec) Dim() int { return len(c.fields) }

// Schema returns the ordered field names fixed at fit time.
func (c *Codec) Schema() []string {
	names := make([]string, len(c.fields))
	for i, f := range c.fields {
		names[i] = f.Name
	}
	return names
}

// Encode converts a named record into a standardized feature vector.
// Missing fields default to zero. Categorical values outside the fitted
// vocabulary deterministically encode to the reserved code -1; they never
// fail a request. A numeric value supplied for a categorical slot is taken
// as a pre-assigned code.
func (c *Codec) Encode(rec dataset.Record) ([]float64, error) {
	if !c.fitted {
		return nil, ErrNotFitted
	}
	raw, err := c.rawEncode(rec, false)
	if err != nil {
		return nil, err
	}
	return c.scale(raw), nil
}

// EncodeVector standardizes an already-ordered raw vector. The length must
// match the fitted schema exactly.
func (c *Codec) EncodeVector(vec []float64) ([]float64, error) {
	if !c.fitted {
		return nil, ErrNotFitted
	}
	if len(vec) != len(c.fields) {
		return nil, fmt.Errorf("%w: expected %d features, got %d", ErrSchemaMismatch, len(c.fields), len(vec))
	}
	return c.scale(vec), nil
}

// EncodeAll encodes every record of a training dataset. Unlike Encode it is
// strict: each record must carry a value for every schema field.
func (c *Codec) EncodeAll(ds *dataset.Dataset) ([][]float64, error) {
	if !c.fitted {
		return nil, ErrNotFitted
	}
	out := make([][]float64, ds.Len())
	for i, rec := range ds.Records {
		raw, err := c.rawEncode(rec, true)
		if err != nil {
			return nil, err
		}
		out[i] = c.scale(raw)
	}
	return out, nil
}

// rawEncode maps a record onto the schema order without scaling. In strict
// mode a missing field is a schema error; otherwise it defaults to zero.
func (c *Codec) rawEncode(rec dataset.Record, strict bool) ([]float64, error) {
	row := make([]float64, len(c.fields))
	for i, f := range c.fields {
		v, ok := rec[f.Name]
		if !ok {
			if strict {
				return nil, fmt.Errorf("%w: record is missing field %q", ErrSchemaMismatch, f.Name)
			}
			row[i] = 0
			continue
		}
		switch val := v.(type) {
		case string:
			if f.Kind != dataset.Categorical {
				return nil, fmt.Errorf("%w: field %q expects a number", ErrSchemaMismatch, f.Name)
			}
			code, ok := c.codes[f.Name][val]
			if !ok {
				code = unknownCode
			}
			row[i] = code
		case float64:
			row[i] = val
		case int:
			row[i] = float64(val)
		default:
			return nil, fmt.Errorf("%w: field %q has unsupported type %T", ErrSchemaMismatch, f.Name, v)
		}
	}
	return row, nil
}

func (c *Codec) scale(raw []float64) []float64 {
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = (v - c.mean[i]) / c.stddev[i]
	}
	return out
}

// ScalerState returns the fitted scaling parameters for persistence.
func (c *Codec) ScalerState() ScalerState {
	return ScalerState{Mean: c.mean, Stddev: c.stddev}
}

// SchemaState returns the fitted schema and vocabularies for persistence.
func (c *Codec) SchemaState() SchemaState {
	return SchemaState{Fields: c.fields, Vocab: c.vocab}
}

// CodecFromState restores a codec from persisted schema and scaler state.
// The two must be mutually consistent or the restore is rejected.
func CodecFromState(schema SchemaState, scaler ScalerState) (*Codec, error) {
	if len(schema.Fields) == 0 {
		return nil, errors.New("schema state has no fields")
	}
	if len(scaler.Mean) != len(schema.Fields) || len(scaler.Stddev) != len(schema.Fields) {
		return nil, fmt.Errorf("scaler covers %d slots, schema has %d", len(scaler.Mean), len(schema.Fields))
	}
	for _, f := range schema.Fields {
		if f.Kind == dataset.Categorical {
			if _, ok := schema.Vocab[f.Name]; !ok {
				return nil, fmt.Errorf("schema state is missing vocabulary for %q", f.Name)
			}
		}
	}
	for i, s := range scaler.Stddev {
		if s == 0 {
			return nil, fmt.Errorf("scaler stddev is zero at slot %d", i)
		}
	}
	return &Codec{
		fields: schema.Fields,
		vocab:  schema.Vocab,
		codes:  buildCodes(schema.Vocab),
		mean:   scaler.Mean,
		stddev: scaler.Stddev,
		fitted: true,
	}, nil
}

func buildCodes(vocab map[string][]string) map[string]map[string]float64 {
	codes := make(map[string]map[string]float64, len(vocab))
	for field, values := range vocab {
		m := make(map[string]float64, len(values))
		for i, v := range values {
			m[v] = float64(i)
		}
		codes[field] = m
	}
	return codes
}
