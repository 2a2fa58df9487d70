package capability

import "context"

// State is the load outcome of a discovered plugin
type State string

const (
	StateLoaded State = "loaded"
	StateFailed State = "failed"
)

// KindTemplateFormat is the plugin kind the engine requires at least one of.
const KindTemplateFormat = "template_format"

// Plugin is a discovered capability. It is never mutated after discovery.
type Plugin struct {
	Name    string
	Kind    string
	Version string
	Source  string
	State   State
	Err     error
}

func (p Plugin) Loaded() bool {
	return p.State == StateLoaded
}

// Loader enumerates capability plugins.
// A returned error means the enumeration itself failed.
type Loader interface {
	Discover(ctx context.Context) ([]Plugin, error)
}

// LoaderFunc adapts a function to the Loader interface
type LoaderFunc func(ctx context.Context) ([]Plugin, error)

func (f LoaderFunc) Discover(ctx context.Context) ([]Plugin, error) {
	return f(ctx)
}
