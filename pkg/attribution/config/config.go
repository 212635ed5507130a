package config

import (
	"fmt"
	"strings"
	"time"
)

// Config wraps a decoded YAML/JSON document for typed value extraction.
// Accessors return the default when a key is missing or null, and a
// *KeyError when it holds a value of the wrong type or format.
type Config struct {
	path string
	data map[string]any
}

// KeyError reports a configuration value that could not be converted.
type KeyError struct {
	Key   string
	Value any
	Want  string
}

// Error implements the error interface.
func (e *KeyError) Error() string {
	return fmt.Sprintf("config %s: invalid value %v: want %s", e.Key, e.Value, e.Want)
}

// New creates a Config from the given map. A nil map yields an empty Config.
func New(data map[string]any) Config {
	if data == nil {
		data = make(map[string]any)
	}
	return Config{data: data}
}

func (c Config) keyError(key string, want string) error {
	name := key
	if c.path != "" {
		name = c.path + "." + key
	}
	return &KeyError{Key: name, Value: c.data[key], Want: want}
}

// String returns the string value for key, or defaultVal if missing.
func (c Config) String(key, defaultVal string) (string, error) {
	if c.data[key] == nil {
		return defaultVal, nil
	}
	if s, ok := c.data[key].(string); ok {
		return s, nil
	}
	return defaultVal, c.keyError(key, "string")
}

// Int returns the integer value for key, or defaultVal if missing.
// A float64 is accepted only when it has no fractional part.
func (c Config) Int(key string, defaultVal int) (int, error) {
	switch val := c.data[key].(type) {
	case nil:
		return defaultVal, nil
	case int:
		return val, nil
	case int64:
		return int(val), nil
	case float64:
		if val == float64(int(val)) {
			return int(val), nil
		}
	}
	return defaultVal, c.keyError(key, "integer")
}

// Float returns the float64 value for key, or defaultVal if missing.
func (c Config) Float(key string, defaultVal float64) (float64, error) {
	switch val := c.data[key].(type) {
	case nil:
		return defaultVal, nil
	case float64:
		return val, nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	}
	return defaultVal, c.keyError(key, "number")
}

// Duration returns the duration value for key, or defaultVal if missing.
//
// Accepts:
//   - string: parsed with time.ParseDuration
//   - int, int64, float64: seconds
//   - time.Duration: used directly
func (c Config) Duration(key string, defaultVal time.Duration) (time.Duration, error) {
	switch val := c.data[key].(type) {
	case nil:
		return defaultVal, nil
	case string:
		if d, err := time.ParseDuration(val); err == nil {
			return d, nil
		}
	case float64:
		return time.Duration(val * float64(time.Second)), nil
	case int:
		return time.Duration(val) * time.Second, nil
	case int64:
		return time.Duration(val) * time.Second, nil
	case time.Duration:
		return val, nil
	}
	return defaultVal, c.keyError(key, "duration")
}

// Time returns the instant for key, or defaultVal if missing.
//
// Accepts:
//   - string: RFC 3339 with or without fractional seconds, or a bare date (UTC midnight)
//   - int, int64, float64: unix seconds, or unix milliseconds when above 1e12
//   - time.Time: used directly
func (c Config) Time(key string, defaultVal time.Time) (time.Time, error) {
	switch val := c.data[key].(type) {
	case nil:
		return defaultVal, nil
	case time.Time:
		return val, nil
	case string:
		if t, ok := parseInstant(val); ok {
			return t, nil
		}
	case int:
		return fromUnix(float64(val)), nil
	case int64:
		return fromUnix(float64(val)), nil
	case float64:
		return fromUnix(val), nil
	}
	return defaultVal, c.keyError(key, "timestamp")
}

// Section returns the nested object at key as a Config.
// A missing key yields an empty Config.
func (c Config) Section(key string) (Config, error) {
	sub := New(nil)
	sub.path = key
	if c.path != "" {
		sub.path = c.path + "." + key
	}
	if c.data[key] == nil {
		return sub, nil
	}
	m, ok := c.data[key].(map[string]any)
	if !ok {
		return sub, c.keyError(key, "object")
	}
	sub.data = m
	return sub, nil
}

func parseInstant(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func fromUnix(v float64) time.Time {
	if v > 1e12 {
		return time.UnixMilli(int64(v)).UTC()
	}
	return time.Unix(int64(v), 0).UTC()
}
