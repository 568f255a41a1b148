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

// ParseBytes decodes a config document. The extension of name selects YAML
// or JSON; ${VAR} references are expanded first. Both formats go through the
// same strict JSON decoder, so unknown keys are rejected either way.
func ParseBytes(name string, b []byte) (*Config, error) {
	b = expandEnv(b)
	if isYAML(name) {
		jb, err := yamlToJSON(b)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(name), err)
		}
		b = jb
	}

	var cfg Config
	if err := decodeStrict(b, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(name), err)
	}
	return &cfg, nil
}

func isYAML(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func decodeStrict(b []byte, into any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return err
	}
	// RawMessage is not a struct, so unknown-field checks stay out of this
	var rest json.RawMessage
	switch err := dec.Decode(&rest); {
	case err == io.EOF:
		return nil
	case err == nil:
		return errors.New("trailing data after config document")
	default:
		return fmt.Errorf("trailing data after config document: %w", err)
	}
}

// yamlToJSON re-encodes a YAML document as JSON. An empty document becomes
// an empty object.
func yamlToJSON(b []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	if doc == nil {
		return []byte("{}"), nil
	}
	out, err := json.Marshal(stringKeys(doc))
	if err != nil {
		return nil, fmt.Errorf("yaml to json: %w", err)
	}
	return out, nil
}

// stringKeys rewrites nested maps so every key is a string; json.Marshal
// refuses the numeric keys YAML allows.
func stringKeys(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, e := range x {
			x[k] = stringKeys(e)
		}
		return x
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, e := range x {
			m[fmt.Sprint(k)] = stringKeys(e)
		}
		return m
	case []any:
		for i, e := range x {
			x[i] = stringKeys(e)
		}
		return x
	}
	return v
}
