package executor

import (
	"regexp"
)

// templatePattern matches a whole-string template leaf: either
// "{{ steps.<id>.result }}" or "{{ steps.<id>.result.<field> }}". It must
// match the entire string, not a substring, since partial interpolation is
// left verbatim.
var templatePattern = regexp.MustCompile(`^\{\{\s*steps\.([A-Za-z0-9_-]+)\.result(?:\.(\w+))?\s*\}\}$`)

// StepContext is the ephemeral per-execution context handed to
// ResolveTemplates; it
// maps a step id to that step's recorded result.
type StepContext map[string]interface{}

// ResolveTemplates deep-clones input and substitutes every whole-string
// template leaf it finds, walking objects key by key and arrays in order.
// Non-string leaves pass through unchanged. A template string naming a step
// absent from ctx is left verbatim.
func ResolveTemplates(input interface{}, ctx StepContext) interface{} {
	switch v := input.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			out[k] = ResolveTemplates(val, ctx)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			out[i] = ResolveTemplates(val, ctx)
		}
		return out
	case string:
		return resolveStringLeaf(v, ctx)
	default:
		return v
	}
}

func resolveStringLeaf(s string, ctx StepContext) interface{} {
	m := templatePattern.FindStringSubmatch(s)
	if m == nil {
		return s
	}

	stepID, field := m[1], m[2]
	result, ok := ctx[stepID]
	if !ok {
		return s
	}

	if field == "" {
		return result
	}

	obj, ok := result.(map[string]interface{})
	if !ok {
		return s
	}
	value, ok := obj[field]
	if !ok {
		return s
	}
	return value
}
