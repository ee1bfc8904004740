package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// GetByPath retrieves a config value by dot-notation path (e.g. "search.provider").
func GetByPath(cfg *Config, path string) (any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}

	var current any = m
	for _, key := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]any:
			val, ok := v[key]
			if !ok {
				return nil, fmt.Errorf("key not found: %s", path)
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("invalid array index: %s", key)
			}
			current = v[idx]
		default:
			return nil, fmt.Errorf("cannot traverse into %T at %s", current, key)
		}
	}
	return current, nil
}

// Sanitize returns a copy of the config with sensitive values masked.
func Sanitize(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var copy Config
	if err := json.Unmarshal(data, &copy); err != nil {
		return cfg
	}

	for name, prov := range copy.Providers {
		if prov.APIKey != "" {
			prov.APIKey = maskString(prov.APIKey)
		}
		copy.Providers[name] = prov
	}
	if copy.Search.APIKey != "" {
		copy.Search.APIKey = maskString(copy.Search.APIKey)
	}
	for i, ds := range copy.Datasets.Entries {
		if ds.DSN != "" {
			copy.Datasets.Entries[i].DSN = "***"
		}
	}

	return &copy
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
