package templates

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
)

var placeholderPattern = regexp.MustCompile(`\{\{credential:([A-Za-z0-9_.\-]+)\}\}`)

// credentialSections are the node keys whose string values may carry placeholders.
var credentialSections = []string{"credentials", "parameters"}

// Placeholders lists the distinct credential placeholder names used by the
// definition's nodes, sorted.
func Placeholders(definition json.RawMessage) ([]string, error) {
	seen := make(map[string]struct{})

	_, err := rewrite(definition, func(s string) string {
		for _, match := range placeholderPattern.FindAllStringSubmatch(s, -1) {
			seen[match[1]] = struct{}{}
		}

		return s
	})
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}

	sort.Strings(names)

	return names, nil
}

// Substitute replaces every placeholder that resolve knows. Unresolved
// placeholders are left untouched.
func Substitute(definition json.RawMessage, resolve func(name string) (string, bool)) (json.RawMessage, error) {
	return rewrite(definition, func(s string) string {
		return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
			name := placeholderPattern.FindStringSubmatch(match)[1]

			value, ok := resolve(name)
			if !ok {
				return match
			}

			return value
		})
	})
}

func rewrite(definition json.RawMessage, fn func(string) string) (json.RawMessage, error) {
	var doc map[string]any

	decoder := json.NewDecoder(bytes.NewReader(definition))
	decoder.UseNumber()

	err := decoder.Decode(&doc)
	if err != nil {
		return nil, fmt.Errorf("invalid definition: %w", err)
	}

	nodes, _ := doc["nodes"].([]any)

	for _, raw := range nodes {
		node, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		for _, section := range credentialSections {
			if value, exists := node[section]; exists {
				node[section] = walk(value, fn)
			}
		}
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode definition: %w", err)
	}

	return out, nil
}

func walk(value any, fn func(string) string) any {
	switch v := value.(type) {
	case string:
		return fn(v)
	case map[string]any:
		for key, item := range v {
			v[key] = walk(item, fn)
		}

		return v
	case []any:
		for i, item := range v {
			v[i] = walk(item, fn)
		}

		return v
	default:
		return v
	}
}
