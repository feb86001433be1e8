package role

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/cyberinferno/railserver/apperror"
)

// checkKeys verifies that payload carries every key, or at least one of
// them when anyKey is set.
func checkKeys(payload map[string]any, keys []string, anyKey bool) error {
	if len(keys) == 0 {
		return nil
	}

	found := 0
	for _, k := range keys {
		if _, ok := payload[k]; ok {
			found++
		}
	}

	if anyKey && found > 0 || !anyKey && found == len(keys) {
		return nil
	}

	if anyKey {
		return apperror.NewBadCommand("The command's payload does not contain any of the keys: %s", strings.Join(keys, ", "))
	}

	return apperror.NewBadCommand("The command's payload does not contain all needed keys: %s", strings.Join(keys, ", "))
}

// toInt coerces a decoded JSON value to an int. Numeric strings are
// accepted.
func toInt(key string, v any) (int, error) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), nil
		}
	case float64:
		if n == float64(int(n)) {
			return int(n), nil
		}
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i, nil
		}
	}

	return 0, apperror.NewBadCommand("Invalid value for %s: %v", key, v)
}

func intKey(payload map[string]any, key string) (int, error) {
	return toInt(key, payload[key])
}

// optInt returns def when key is absent or null.
func optInt(payload map[string]any, key string, def int) (int, error) {
	v, ok := payload[key]
	if !ok || v == nil {
		return def, nil
	}

	return toInt(key, v)
}

func optString(payload map[string]any, key, def string) (string, error) {
	v, ok := payload[key]
	if !ok || v == nil {
		return def, nil
	}

	s, ok := v.(string)
	if !ok {
		return "", apperror.NewBadCommand("Invalid value for %s: %v", key, v)
	}

	return s, nil
}

// optInts reads an optional list of integers.
func optInts(payload map[string]any, key string) ([]int, error) {
	v, ok := payload[key]
	if !ok || v == nil {
		return nil, nil
	}

	items, ok := v.([]any)
	if !ok {
		return nil, apperror.NewBadCommand("Invalid value for %s: expected a list", key)
	}

	out := make([]int, 0, len(items))
	for _, item := range items {
		i, err := toInt(key, item)
		if err != nil {
			return nil, err
		}

		out = append(out, i)
	}

	return out, nil
}
