package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// toJSON returns the file contents as JSON so both formats go through the same
// strict decoder. Files ending in .yaml or .yml are YAML; anything else is JSON.
func toJSON(path string, data []byte) (out []byte, format string, err error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return data, "json", nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	var doc any
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return []byte("{}"), "yaml", nil
		}
		return nil, "yaml", fmt.Errorf("yaml config %s: %w", path, err)
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, "yaml", fmt.Errorf("yaml config %s: trailing data (one document expected)", path)
	}

	out, err = json.Marshal(stringKeys(doc))
	if err != nil {
		return nil, "yaml", fmt.Errorf("yaml config %s: %w", path, err)
	}
	return out, "yaml", nil
}

// stringKeys rewrites nested YAML maps with non-string keys (e.g. "8443: x")
// into JSON-compatible maps.
func stringKeys(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, val := range x {
			x[k] = stringKeys(val)
		}
		return x
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, val := range x {
			m[fmt.Sprint(k)] = stringKeys(val)
		}
		return m
	case []any:
		for i, val := range x {
			x[i] = stringKeys(val)
		}
		return x
	}
	return v
}
