package capability

import (
	"context"
	"sort"
	"sync"

	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/logging"
)

const noCapabilitiesMessage = "no template format plugins registered"

// Registry holds the plugins found by its loader, keyed by name.
// Discovery runs once; later calls reuse the first result.
type Registry struct {
	loader Loader
	logger logging.Logger

	once    sync.Once
	plugins map[string]Plugin
	order   []string
	err     error
}

func NewRegistry(loader Loader, logger logging.Logger) *Registry {
	return &Registry{
		loader: loader,
		logger: logger,
	}
}

// Validate succeeds iff at least one template format plugin loaded.
// Loaded plugins of other kinds are listed but do not satisfy the check.
// A failing enumeration is logged as critical and counts as zero plugins.
func (r *Registry) Validate(ctx context.Context) error {
	r.once.Do(func() {
		r.discover(ctx)
	})
	return r.err
}

func (r *Registry) discover(ctx context.Context) {
	r.plugins = make(map[string]Plugin)

	discovered, err := r.loader.Discover(ctx)
	if err != nil {
		r.logger.Errorf("CRITICAL: capability plugin enumeration failed, error: %v", err)
		discovered = nil
	}

	loaded := 0
	for _, plugin := range discovered {
		if _, exists := r.plugins[plugin.Name]; exists {
			r.logger.Warnf("Duplicate capability plugin ignored, name: %s, source: %s", plugin.Name, plugin.Source)
			continue
		}
		r.plugins[plugin.Name] = plugin
		r.order = append(r.order, plugin.Name)

		if plugin.Loaded() {
			if plugin.Kind == KindTemplateFormat {
				loaded++
			}
			r.logger.Debugf("Capability plugin loaded, name: %s, kind: %s, source: %s", plugin.Name, plugin.Kind, plugin.Source)
		} else {
			r.logger.Warnf("Capability plugin failed to load, name: %s, source: %s, error: %v", plugin.Name, plugin.Source, plugin.Err)
		}
	}

	if loaded == 0 {
		r.logger.Errorf("CRITICAL: %s, discovered: %d", noCapabilitiesMessage, len(r.plugins))
		r.err = errors.NewNoCapabilitiesError(noCapabilitiesMessage, err).WithContext("discovered", len(r.plugins))
		return
	}

	r.logger.Infof("Capability plugins validated, loaded: %d, discovered: %d", loaded, len(r.plugins))
}

// Names lists loaded plugin names in sorted order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.plugins))
	for name, plugin := range r.plugins {
		if plugin.Loaded() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Plugins returns every discovered plugin in discovery order, failed ones included
func (r *Registry) Plugins() []Plugin {
	result := make([]Plugin, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.plugins[name])
	}
	return result
}
