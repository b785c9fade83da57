// Package pool holds a registry of studentsync.Pool implementations,
// so a pool can be chosen and configured at runtime.
package pool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"github.com/bobg/studentsync"
)

// Factory creates a pool from a configuration map.
type Factory func(context.Context, map[string]interface{}) (studentsync.Pool, error)

var registry = make(map[string]Factory)

// Register makes a pool implementation available to Create under the name key.
func Register(key string, f Factory) {
	registry[key] = f
}

// Create creates a pool of the type registered under key.
func Create(ctx context.Context, key string, conf map[string]interface{}) (studentsync.Pool, error) {
	f, ok := registry[key]
	if !ok {
		return nil, fmt.Errorf("key %s not found in registry", key)
	}
	return f(ctx, conf)
}

// IntParam reads an integer parameter from a configuration map.
// Config decoders variously produce int, int64, float64, and json.Number,
// so all of those are accepted.
// The boolean result is false if the key is absent.
func IntParam(conf map[string]interface{}, key string) (int, bool, error) {
	v, ok := conf[key]
	if !ok {
		return 0, false, nil
	}
	switch v := v.(type) {
	case int:
		return v, true, nil
	case int64:
		return int(v), true, nil
	case float64:
		return int(v), true, nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, true, errors.Wrapf(err, "parsing %s", key)
		}
		return int(n), true, nil
	}
	return 0, true, fmt.Errorf("parameter %s has type %T, want a number", key, v)
}
