package capability

import "context"

const builtinSource = "builtin"

var cfnVersions = []string{"2010-09-09"}

var heatTemplateFormatVersions = []string{"2012-12-12"}

// heat_template_version values and their release aliases
var hotVersions = []string{
	"2013-05-23",
	"2014-10-16",
	"2015-04-30",
	"2015-10-15",
	"2016-04-08",
	"2016-10-14", "newton",
	"2017-02-24", "ocata",
	"2017-09-01", "pike",
	"2018-03-02", "queens",
	"2018-08-31", "rocky",
	"2021-04-16", "wallaby",
}

// BuiltinLoader reports the template formats compiled into the engine.
// Formats named in Exclude are left out.
type BuiltinLoader struct {
	Exclude []string
}

func (l BuiltinLoader) Discover(ctx context.Context) ([]Plugin, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	excluded := make(map[string]bool, len(l.Exclude))
	for _, name := range l.Exclude {
		excluded[name] = true
	}

	var plugins []Plugin
	add := func(key string, versions []string) {
		for _, v := range versions {
			name := key + "." + v
			if excluded[name] {
				continue
			}
			plugins = append(plugins, Plugin{
				Name:    name,
				Kind:    KindTemplateFormat,
				Version: v,
				Source:  builtinSource,
				State:   StateLoaded,
			})
		}
	}

	add("AWSTemplateFormatVersion", cfnVersions)
	add("HeatTemplateFormatVersion", heatTemplateFormatVersions)
	add("heat_template_version", hotVersions)

	return plugins, nil
}
