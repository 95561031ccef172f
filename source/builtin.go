package source

import (
	"context"
	"maps"
	"slices"
)

var builtinTemplates = map[string]Template{
	"basic": {
		Name:      "basic",
		Kind:      KindBuiltin,
		Content:   "# Basic template\nProject: $project_name",
		Variables: []string{"project_name"},
	},
	"python": {
		Name:      "python",
		Kind:      KindBuiltin,
		Content:   "# Python Project\nLanguages: Python\nFrameworks: $frameworks",
		Variables: []string{"frameworks"},
	},
}

// Builtin serves the templates compiled into the binary.
type Builtin struct{}

func (Builtin) Name() string { return string(KindBuiltin) }

func (Builtin) Produce(ctx context.Context, name string) (Template, error) {
	if err := ctx.Err(); err != nil {
		return Template{}, err
	}
	t, ok := builtinTemplates[name]
	if !ok {
		return Template{}, skip("builtin", name)
	}
	t.Variables = slices.Clone(t.Variables)
	return t, nil
}

// BuiltinNames lists the builtin template names in order.
func BuiltinNames() []string {
	return slices.Sorted(maps.Keys(builtinTemplates))
}
