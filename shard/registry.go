package shard

import (
	"context"
	"fmt"
)

// Factory creates an Opener from a configuration map.
type Factory func(context.Context, map[string]interface{}) (Opener, error)

var registry = make(map[string]Factory)

// Register makes an Opener implementation available to Create under the given key.
func Register(key string, f Factory) {
	registry[key] = f
}

// Create produces an Opener of the type registered under key.
func Create(ctx context.Context, key string, conf map[string]interface{}) (Opener, error) {
	f, ok := registry[key]
	if !ok {
		return nil, fmt.Errorf("key %s not found in registry", key)
	}
	return f(ctx, conf)
}
