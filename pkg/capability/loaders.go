package capability

import (
	"context"
	"fmt"
)

// MultiLoader concatenates the results of its loaders in order.
// Any failing loader fails the whole enumeration.
type MultiLoader []Loader

func (m MultiLoader) Discover(ctx context.Context) ([]Plugin, error) {
	var all []Plugin
	for i, loader := range m {
		plugins, err := loader.Discover(ctx)
		if err != nil {
			return nil, fmt.Errorf("loader %d: %w", i, err)
		}
		all = append(all, plugins...)
	}
	return all, nil
}

// FilterLoader marks the plugins named in Disabled as failed
type FilterLoader struct {
	Loader   Loader
	Disabled []string
}

func (f FilterLoader) Discover(ctx context.Context) ([]Plugin, error) {
	plugins, err := f.Loader.Discover(ctx)
	if err != nil {
		return nil, err
	}
	if len(f.Disabled) == 0 {
		return plugins, nil
	}

	disabled := make(map[string]bool, len(f.Disabled))
	for _, name := range f.Disabled {
		disabled[name] = true
	}

	result := make([]Plugin, len(plugins))
	for i, p := range plugins {
		if disabled[p.Name] && p.Loaded() {
			p.State = StateFailed
			p.Err = fmt.Errorf("disabled by configuration")
		}
		result[i] = p
	}
	return result, nil
}
