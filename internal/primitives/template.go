// Package primitives implements the three built-in execution primitives
// every tool chain eventually bottoms out at: subprocess, a one-shot
// HTTP call, and an HTTP/SSE stream. Each primitive's parameters are
// templated through two independent passes before use.
package primitives

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// envVarPattern matches ${VAR:-default} against uppercase snake_case
// identifiers only, so it never collides with the {param_name}
// interpolation pass that follows it.
var envVarPattern = regexp.MustCompile(`\$\{([A-Z][A-Z0-9_]*)(:-([^}]*))?\}`)

// paramPattern matches {param_name} against the runtime parameter dict.
var paramPattern = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// ResolveTemplate applies the two-stage resolution spec.md requires for
// subprocess and HTTP primitive fields (command, args, cwd, stdin, url,
// headers): first ${VAR:-default} against the process environment,
// then {param_name} against the supplied runtime parameters. Either
// stage leaves an unmatched placeholder untouched rather than erroring,
// since a literal '$' or '{' in a command string is legal.
func ResolveTemplate(s string, params map[string]string) string {
	s = resolveEnv(s, os.Environ)
	return resolveParams(s, params)
}

func resolveEnv(s string, environ func() []string) string {
	env := make(map[string]string)
	for _, kv := range environ() {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		sub := envVarPattern.FindStringSubmatch(match)
		name, def := sub[1], sub[3]
		if v, ok := env[name]; ok {
			return v
		}
		return def
	})
}

func resolveParams(s string, params map[string]string) string {
	return paramPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[1 : len(match)-1]
		if v, ok := params[name]; ok {
			return v
		}
		return match
	})
}

// ResolveTemplateAll applies ResolveTemplate to every element of a slice.
func ResolveTemplateAll(items []string, params map[string]string) []string {
	out := make([]string, len(items))
	for i, s := range items {
		out[i] = ResolveTemplate(s, params)
	}
	return out
}

// ResolveTemplateMap applies ResolveTemplate to every value in a map
// (used for HTTP headers), leaving keys untouched.
func ResolveTemplateMap(m map[string]string, params map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = ResolveTemplate(v, params)
	}
	return out
}

// StringParams flattens an arbitrary runtime-parameter map down to
// strings for templating purposes; non-string values are rendered with
// their default formatting.
func StringParams(params map[string]any) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		out[k] = toString(v)
	}
	return out
}

func toString(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
