package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseArgs builds a tree from key=value arguments. A leading "-" or "--"
// and an "@" attribute marker are stripped, so "--debug.hold=1",
// "@slavenum=3" and "slavenum=3" are all accepted. Arguments without "="
// are returned in rest, untouched and in order.
func ParseArgs(args []string) (tree *Tree, rest []string, err error) {
	tree = New()
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			rest = append(rest, arg)
			continue
		}
		key = strings.TrimLeft(key, "-")
		key = strings.ReplaceAll(key, "@", "")
		if err := tree.Set(key, value); err != nil {
			return nil, nil, fmt.Errorf("config: argument %q: %w", arg, err)
		}
	}
	return tree, rest, nil
}

// LoadFile reads a YAML document and flattens it into a tree. Nested
// mappings become dotted keys; sequences are joined with commas.
func LoadFile(path string) (*Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return t, nil
}

// Parse flattens a YAML document into a tree.
func Parse(data []byte) (*Tree, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	t := New()
	flatten(t, "", doc)
	return t, nil
}

func flatten(t *Tree, prefix string, node map[string]any) {
	for k, v := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(t, key, val)
		case []any:
			parts := make([]string, 0, len(val))
			for _, item := range val {
				parts = append(parts, scalar(item))
			}
			t.Set(key, strings.Join(parts, ",")) //nolint:errcheck // key comes from a parsed mapping
		default:
			t.Set(key, scalar(val)) //nolint:errcheck // key comes from a parsed mapping
		}
	}
}

func scalar(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

// MarshalYAML renders the tree as a nested YAML document.
func (t *Tree) MarshalYAML() (any, error) {
	root := map[string]any{}
	for k, v := range t.Map() {
		parts := strings.Split(k, ".")
		node := root
		for _, p := range parts[:len(parts)-1] {
			child, ok := node[p].(map[string]any)
			if !ok {
				child = map[string]any{}
				node[p] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = v
	}
	return root, nil
}
