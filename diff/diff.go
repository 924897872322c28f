// Package diff computes field-level differences between two canonical
// documents. Precondition: both inputs are acyclic, which render.Serializer
// guarantees by sanitizing known-cyclic fields before documents reach this
// package. No cycle detection happens here.
package diff

import (
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/riverfall/changefeed/render"
)

// Detail maps a field path to a two-element [old, new] pair.
type Detail map[string][]any

// Diff walks both documents and reports the paths whose values differ.
// A difference inside a list is coarsened: the path is truncated at its
// first index segment and the whole old and new lists are reported under
// the list's field name. Diff(x, x) is empty for any document x.
func Diff(before, after render.Document) Detail {
	paths := make(map[string]struct{})
	walk("", before, after, paths)

	detail := make(Detail)
	for path := range paths {
		field := truncateAtIndex(path)
		if _, seen := detail[field]; seen {
			continue
		}
		detail[field] = []any{lookup(before, field), lookup(after, field)}
	}
	return detail
}

// Paths returns the sorted set of differing (coarsened) field paths.
func (d Detail) Paths() []string {
	paths := make([]string, 0, len(d))
	for p := range d {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func walk(prefix string, a, b any, paths map[string]struct{}) {
	am, aIsMap := asMap(a)
	bm, bIsMap := asMap(b)
	if aIsMap && bIsMap {
		for key := range am {
			walk(join(prefix, key), am[key], bm[key], paths)
		}
		for key := range bm {
			if _, ok := am[key]; !ok {
				walk(join(prefix, key), nil, bm[key], paths)
			}
		}
		return
	}

	as, aIsSlice := a.([]any)
	bs, bIsSlice := b.([]any)
	if aIsSlice && bIsSlice {
		n := len(as)
		if len(bs) > n {
			n = len(bs)
		}
		for i := 0; i < n; i++ {
			var av, bv any
			if i < len(as) {
				av = as[i]
			}
			if i < len(bs) {
				bv = bs[i]
			}
			walk(join(prefix, strconv.Itoa(i)), av, bv, paths)
		}
		return
	}

	if !reflect.DeepEqual(a, b) {
		paths[prefix] = struct{}{}
	}
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case render.Document:
		return m, true
	case map[string]any:
		return m, true
	default:
		return nil, false
	}
}

func join(prefix, segment string) string {
	if prefix == "" {
		return segment
	}
	return prefix + "." + segment
}

// truncateAtIndex cuts a dotted path at its first numeric segment, so a
// change to one list element is reported once under the list field.
func truncateAtIndex(path string) string {
	segments := strings.Split(path, ".")
	for i, seg := range segments {
		if isIndex(seg) {
			return strings.Join(segments[:i], ".")
		}
	}
	return path
}

func isIndex(segment string) bool {
	if segment == "" {
		return false
	}
	_, err := strconv.Atoi(segment)
	return err == nil
}

// lookup resolves a dotted path of field names inside a document. Paths
// produced by truncateAtIndex contain no index segments.
func lookup(doc render.Document, path string) any {
	var current any = doc
	for _, seg := range strings.Split(path, ".") {
		m, ok := asMap(current)
		if !ok {
			return nil
		}
		current = m[seg]
	}
	return current
}
