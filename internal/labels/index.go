// Package labels maps class names to classifier output indices.
//
// An Index is built once per training run, saved next to the model weights
// and loaded read-only for serving. Names are sorted lexicographically, so the
// same class set always yields the same indices.
package labels

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/pkg/errors"
)

// UnknownLabelError is returned for a name or index outside the Index.
type UnknownLabelError struct {
	Name  string
	Index int
	Size  int
}

func (e *UnknownLabelError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("unknown label %q", e.Name)
	}
	return fmt.Sprintf("label index %d out of range [0, %d)", e.Index, e.Size)
}

// Index is an immutable name <-> index mapping with indices 0..N-1.
type Index struct {
	names  []string
	byName map[string]int
}

// Build sorts and deduplicates names and assigns indices in that order.
func Build(names []string) (*Index, error) {
	seen := make(map[string]struct{}, len(names))
	uniq := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" {
			return nil, errors.New("empty class name")
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		uniq = append(uniq, n)
	}
	if len(uniq) == 0 {
		return nil, errors.New("no class names")
	}
	sort.Strings(uniq)
	return newIndex(uniq), nil
}

func newIndex(sorted []string) *Index {
	ix := &Index{
		names:  sorted,
		byName: make(map[string]int, len(sorted)),
	}
	for i, n := range sorted {
		ix.byName[n] = i
	}
	return ix
}

// Len is the number of classes.
func (ix *Index) Len() int {
	return len(ix.names)
}

// Encode returns the index of name.
func (ix *Index) Encode(name string) (int, error) {
	i, ok := ix.byName[name]
	if !ok {
		return -1, &UnknownLabelError{Name: name, Size: len(ix.names)}
	}
	return i, nil
}

// Decode returns the name at index i.
func (ix *Index) Decode(i int) (string, error) {
	if i < 0 || i >= len(ix.names) {
		return "", &UnknownLabelError{Index: i, Size: len(ix.names)}
	}
	return ix.names[i], nil
}

// Names returns the class names in index order.
func (ix *Index) Names() []string {
	return append([]string(nil), ix.names...)
}

// Equal reports whether both indexes map the same names to the same indices.
func (ix *Index) Equal(other *Index) bool {
	if ix == nil || other == nil {
		return ix == other
	}
	if len(ix.names) != len(other.names) {
		return false
	}
	for i := range ix.names {
		if ix.names[i] != other.names[i] {
			return false
		}
	}
	return true
}

// MarshalJSON writes a {"name": index} object with keys in index order.
func (ix *Index) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, n := range ix.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(n)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		fmt.Fprintf(&buf, ":%d", i)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a {"name": index} object. Indices must cover 0..N-1
// exactly once; they are taken as persisted, never re-derived.
func (ix *Index) UnmarshalJSON(data []byte) error {
	var m map[string]int
	if err := json.Unmarshal(data, &m); err != nil {
		return errors.Wrap(err, "decode label mapping")
	}
	if len(m) == 0 {
		return errors.New("empty label mapping")
	}

	names := make([]string, len(m))
	for name, i := range m {
		if name == "" {
			return errors.New("empty class name in label mapping")
		}
		if i < 0 || i >= len(m) {
			return errors.Errorf("label %q has index %d outside [0, %d)", name, i, len(m))
		}
		if names[i] != "" {
			return errors.Errorf("labels %q and %q share index %d", names[i], name, i)
		}
		names[i] = name
	}

	*ix = *newIndex(names)
	return nil
}

// Save writes the mapping to path.
func (ix *Index) Save(path string) error {
	data, err := json.MarshalIndent(ix, "", "  ")
	if err != nil {
		return err
	}
	return errors.Wrapf(os.WriteFile(path, append(data, '\n'), 0o644), "write %s", path)
}

// Load reads a mapping written by Save.
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ix := &Index{}
	if err := json.Unmarshal(data, ix); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return ix, nil
}
