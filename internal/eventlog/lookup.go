package eventlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeRecord parses one JSON record into a generic tree of
// map[string]any, []any and scalar values.
func DecodeRecord(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("failed to decode record: trailing data after JSON value")
	}
	return tree, nil
}

// Lookup walks tree along a dotted path such as "Event.System.Channel".
// It stops at the first segment that is missing or whose parent is not an
// object and reports false; it never panics on malformed input.
func Lookup(tree any, path string) (any, bool) {
	current := tree
	for _, segment := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		next, ok := obj[segment]
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

// LookupString is Lookup restricted to string leaves.
func LookupString(tree any, path string) (string, bool) {
	v, ok := Lookup(tree, path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// LookupStringOr returns the string at path, or def when it is absent.
func LookupStringOr(tree any, path, def string) string {
	if s, ok := LookupString(tree, path); ok {
		return s
	}
	return def
}
