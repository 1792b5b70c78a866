package features

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrUnknownLabel reports a class name outside the fitted encoding.
	ErrUnknownLabel = errors.New("unknown label")
	// ErrUnknownIndex reports a class index outside the fitted encoding.
	ErrUnknownIndex = errors.New("unknown label index")
)

// Labels is a bijection between class names and contiguous indices 0..K-1.
// Indices are assigned in sorted name order, so the same label set always
// produces the same encoding. Immutable after FitLabels.
type Labels struct {
	classes []string
	index   map[string]int
}

// FitLabels builds an encoding from a label column. Duplicates collapse.
func FitLabels(names []string) *Labels {
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		seen[n] = struct{}{}
	}
	classes := make([]string, 0, len(seen))
	for n := range seen {
		classes = append(classes, n)
	}
	sort.Strings(classes)
	return labelsFromClasses(classes)
}

func labelsFromClasses(classes []string) *Labels {
	index := make(map[string]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}
	return &Labels{classes: classes, index: index}
}

// Count returns the number of classes K.
func (l *Labels) Count() int { return len(l.classes) }

// Classes returns the class names in index order.
func (l *Labels) Classes() []string {
	out := make([]string, len(l.classes))
	copy(out, l.classes)
	return out
}

// Index returns the integer index for a class name.
func (l *Labels) Index(name string) (int, error) {
	i, ok := l.index[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownLabel, name)
	}
	return i, nil
}

// Name returns the class name for an index.
func (l *Labels) Name(idx int) (string, error) {
	if idx < 0 || idx >= len(l.classes) {
		return "", fmt.Errorf("%w: %d (have %d classes)", ErrUnknownIndex, idx, len(l.classes))
	}
	return l.classes[idx], nil
}

// EncodeAll maps a label column to indices.
func (l *Labels) EncodeAll(names []string) ([]int, error) {
	out := make([]int, len(names))
	for i, n := range names {
		idx, err := l.Index(n)
		if err != nil {
			return nil, err
		}
		out[i] = idx
	}
	return out, nil
}

type labelsState struct {
	Classes []string `json:"classes"`
}

// MarshalJSON serializes the encoding; ordering carries the index mapping.
func (l *Labels) MarshalJSON() ([]byte, error) {
	return json.Marshal(labelsState{Classes: l.classes})
}

// UnmarshalJSON restores an encoding saved by MarshalJSON.
func (l *Labels) UnmarshalJSON(data []byte) error {
	var st labelsState
	if err := json.Unmarshal(data, &st); err != nil {
		return err
	}
	if len(st.Classes) == 0 {
		return errors.New("label state has no classes")
	}
	*l = *labelsFromClasses(st.Classes)
	return nil
}
