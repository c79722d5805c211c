package executor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var refPattern = regexp.MustCompile(`^\$([A-Za-z_][A-Za-z0-9_]*)((?:\.[A-Za-z0-9_]+)*)$`)

// RefError reports a failed $node_id.path or $item.path lookup.
type RefError struct {
	Node string
	Path string
}

func (e *RefError) Error() string {
	return fmt.Sprintf("DSL_REF_NOT_FOUND: %s%s", e.Node, e.Path)
}

// deepLookup walks dotted path segments into a nested map/slice value.
func deepLookup(value any, segments []string) (any, bool) {
	cur := value
	for _, seg := range segments {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, false
			}
			cur = v[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// ResolveRefs walks input recursively, replacing any string matching
// `$<node_id>(.<key>)*` with a deep lookup into results[node_id], and any
// `$item(.key)*` with a deep lookup into item (nil outside a for_each body).
func ResolveRefs(input any, results map[string]any, item any) (any, error) {
	switch v := input.(type) {
	case string:
		m := refPattern.FindStringSubmatch(v)
		if m == nil {
			return v, nil
		}
		root := m[1]
		var segments []string
		if m[2] != "" {
			segments = strings.Split(strings.TrimPrefix(m[2], "."), ".")
		}
		var base any
		if root == "item" {
			base = item
		} else {
			res, ok := results[root]
			if !ok {
				return nil, &RefError{Node: root, Path: m[2]}
			}
			base = res
		}
		resolved, ok := deepLookup(base, segments)
		if !ok {
			return nil, &RefError{Node: root, Path: m[2]}
		}
		return resolved, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			resolved, err := ResolveRefs(val, results, item)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			resolved, err := ResolveRefs(val, results, item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}
