package persistence

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

var ErrInvalidPath = fmt.Errorf("invalid document path")

func segments(path string) []string {
	return strings.Split(strings.Trim(path, "/"), "/")
}

// checkDocPath validates a document path and returns its collection.
func checkDocPath(path string) (string, error) {
	segs := segments(path)
	if len(segs)%2 != 0 || hasEmpty(segs) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return strings.Join(segs[:len(segs)-1], "/"), nil
}

// checkCollectionPath validates a collection path and returns the path of its parent document, which is
// empty for top level collections.
func checkCollectionPath(path string) (string, error) {
	segs := segments(path)
	if len(segs)%2 != 1 || hasEmpty(segs) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return strings.Join(segs[:len(segs)-1], "/"), nil
}

func hasEmpty(segs []string) bool {
	for _, s := range segs {
		if s == "" {
			return true
		}
	}
	return false
}

// normalize converts v into its plain JSON representation (maps, slices, float64, string, bool, nil), so
// that documents from all sources compare equal.
func normalize(v interface{}) (interface{}, error) {
	if op, ok := v.(arrayOp); ok {
		elems := make([]interface{}, len(op.elems))
		for i, e := range op.elems {
			n, err := normalize(e)
			if err != nil {
				return nil, err
			}
			elems[i] = n
		}
		return arrayOp{remove: op.remove, elems: elems}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	err = json.Unmarshal(raw, &out)
	return out, err
}

func normalizeDoc(d Doc) (Doc, error) {
	n, err := normalize(map[string]interface{}(d))
	if err != nil {
		return nil, err
	}
	m, _ := n.(map[string]interface{})
	if m == nil {
		m = map[string]interface{}{}
	}
	return m, nil
}

// mergeDocs merges src into dst, nested maps are merged recursively.
func mergeDocs(dst, src map[string]interface{}) {
	for k, v := range src {
		sv, srcIsMap := v.(map[string]interface{})
		dv, dstIsMap := dst[k].(map[string]interface{})
		if srcIsMap && dstIsMap {
			mergeDocs(dv, sv)
			continue
		}
		dst[k] = v
	}
}

// applyUpdates applies the field updates to doc in place.
func applyUpdates(doc Doc, updates []Update) error {
	for _, u := range updates {
		if u.Path == "" {
			return fmt.Errorf("%w: empty field path", ErrInvalidPath)
		}
		value, err := normalize(u.Value)
		if err != nil {
			return err
		}
		keys := strings.Split(u.Path, ".")
		parent := map[string]interface{}(doc)
		for _, k := range keys[:len(keys)-1] {
			next, ok := parent[k].(map[string]interface{})
			if !ok {
				next = map[string]interface{}{}
				parent[k] = next
			}
			parent = next
		}
		last := keys[len(keys)-1]
		if op, ok := value.(arrayOp); ok {
			current, _ := parent[last].([]interface{})
			parent[last] = applyArrayOp(current, op)
			continue
		}
		parent[last] = value
	}
	return nil
}

func applyArrayOp(current []interface{}, op arrayOp) []interface{} {
	out := make([]interface{}, 0, len(current)+len(op.elems))
	if op.remove {
		for _, c := range current {
			if !containsValue(op.elems, c) {
				out = append(out, c)
			}
		}
		return out
	}
	out = append(out, current...)
	for _, e := range op.elems {
		if !containsValue(out, e) {
			out = append(out, e)
		}
	}
	return out
}

func containsValue(list []interface{}, v interface{}) bool {
	for _, e := range list {
		if reflect.DeepEqual(e, v) {
			return true
		}
	}
	return false
}

// Decode converts a document into out (a pointer to a struct with json tags).
func Decode(doc Doc, out interface{}) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// Encode converts a struct with json tags into a document.
func Encode(v interface{}) (Doc, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	doc := Doc{}
	err = json.Unmarshal(raw, &doc)
	return doc, err
}
