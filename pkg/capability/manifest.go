package capability

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/core-tools/hsu-launcher/pkg/errors"
	"github.com/core-tools/hsu-launcher/pkg/logging"
)

// Manifest describes one externally provided capability plugin.
//
//	name: heat_template_version.2023-01-01
//	kind: template_format
//	version: "2023-01-01"
//	enabled: true
type Manifest struct {
	Name    string `yaml:"name"`
	Kind    string `yaml:"kind"`
	Version string `yaml:"version"`
	Enabled *bool  `yaml:"enabled,omitempty"`
}

// ManifestLoader reads *.yaml and *.yml manifests from a set of directories.
// A bad manifest yields a failed plugin, an unreadable directory fails the enumeration.
type ManifestLoader struct {
	Directories []string
	Logger      logging.Logger
}

func (l ManifestLoader) Discover(ctx context.Context) ([]Plugin, error) {
	var plugins []Plugin

	for _, dir := range l.Directories {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewCancelledError("manifest discovery cancelled", err)
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, errors.NewIOError("failed to read manifest directory", err).WithContext("directory", dir)
		}

		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			ext := strings.ToLower(filepath.Ext(entry.Name()))
			if ext == ".yaml" || ext == ".yml" {
				names = append(names, entry.Name())
			}
		}
		sort.Strings(names)

		for _, name := range names {
			path := filepath.Join(dir, name)
			plugin := loadManifest(path)
			if l.Logger != nil {
				l.Logger.Debugf("Manifest read, path: %s, plugin: %s, state: %s", path, plugin.Name, plugin.State)
			}
			plugins = append(plugins, plugin)
		}
	}

	return plugins, nil
}

func loadManifest(path string) Plugin {
	fallbackName := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	failed := func(name string, err error) Plugin {
		return Plugin{Name: name, Source: path, State: StateFailed, Err: err}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return failed(fallbackName, err)
	}

	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return failed(fallbackName, fmt.Errorf("parse manifest: %w", err))
	}

	if manifest.Name == "" {
		return failed(fallbackName, fmt.Errorf("manifest has no name"))
	}
	if manifest.Kind == "" {
		manifest.Kind = KindTemplateFormat
	}

	plugin := Plugin{
		Name:    manifest.Name,
		Kind:    manifest.Kind,
		Version: manifest.Version,
		Source:  path,
		State:   StateLoaded,
	}
	if manifest.Enabled != nil && !*manifest.Enabled {
		plugin.State = StateFailed
		plugin.Err = fmt.Errorf("disabled by manifest")
	}
	return plugin
}
