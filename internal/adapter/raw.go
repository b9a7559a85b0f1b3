package adapter

import (
	"strconv"
	"time"
)

// Accessors for the untyped raw-record payloads. Billing exports are messy:
// numbers arrive as strings or floats depending on the provider and API
// version, so every accessor degrades to a zero value instead of failing.

// RawString returns data[key] as a string, or "" when absent or not a
// string.
func RawString(data map[string]any, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

// RawFloat returns data[key] as a float64, accepting float64, int, and
// numeric strings. Missing or malformed values yield 0.
func RawFloat(data map[string]any, key string) float64 {
	switch v := data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}

// RawTime returns data[key] parsed with the given layout, or the zero time.
func RawTime(data map[string]any, key, layout string) time.Time {
	s := RawString(data, key)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// RawTags returns data[key] as a string map, stripping the given prefix
// from every key. Providers namespace user tags (AWS "user:", GCP
// "labels.") and the FOCUS tag map carries them unprefixed.
func RawTags(data map[string]any, key, prefix string) map[string]string {
	raw, ok := data[key].(map[string]any)
	if !ok {
		return nil
	}
	tags := make(map[string]string, len(raw))
	for k, v := range raw {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if prefix != "" && len(k) > len(prefix) && k[:len(prefix)] == prefix {
			k = k[len(prefix):]
		}
		tags[k] = s
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}
