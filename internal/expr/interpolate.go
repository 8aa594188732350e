package expr

import (
	"strings"
)

// Interpolate resolves every `${dotted.path}` placeholder in template
// against ctx. When the entire template is a single `${...}`
// expression, the raw resolved value (including non-strings) is
// returned as a Value; otherwise every placeholder is coalesced to
// string and the result is a single string Value.
func Interpolate(template string, ctx Context) (Value, error) {
	if expr, ok := soleExpr(template); ok {
		node, err := Parse(expr)
		if err != nil {
			return Null, err
		}
		return node.Eval(ctx)
	}

	var b strings.Builder
	i := 0
	for i < len(template) {
		start := strings.Index(template[i:], "${")
		if start < 0 {
			b.WriteString(template[i:])
			break
		}
		start += i
		b.WriteString(template[i:start])
		end := matchingBrace(template, start+2)
		if end < 0 {
			b.WriteString(template[start:])
			break
		}
		inner := template[start+2 : end]
		node, err := Parse(inner)
		if err != nil {
			return Null, err
		}
		v, err := node.Eval(ctx)
		if err != nil {
			return Null, err
		}
		b.WriteString(v.String())
		i = end + 1
	}
	return StringValue(b.String()), nil
}

// soleExpr reports whether template is exactly one `${...}` placeholder
// with nothing else around it, returning its inner expression text.
func soleExpr(template string) (string, bool) {
	t := strings.TrimSpace(template)
	if !strings.HasPrefix(t, "${") || !strings.HasSuffix(t, "}") {
		return "", false
	}
	end := matchingBrace(t, 2)
	if end != len(t)-1 {
		return "", false
	}
	return t[2:end], true
}

// matchingBrace finds the index of the '}' matching the '{' implicitly
// opened at from-2 (i.e. scanning starts just after "${"), accounting
// for nested braces inside string literals is not needed since this
// grammar has no braces of its own.
func matchingBrace(s string, from int) int {
	depth := 1
	for i := from; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// InterpolateInput resolves the `{input:name}`, `{input:name?}`, and
// `{input:name:default}` per-directive input reference syntax against
// the directive's resolved inputs map.
func InterpolateInput(template string, inputs map[string]Value) string {
	var b strings.Builder
	i := 0
	for i < len(template) {
		start := strings.Index(template[i:], "{input:")
		if start < 0 {
			b.WriteString(template[i:])
			break
		}
		start += i
		b.WriteString(template[i:start])
		end := strings.IndexByte(template[start:], '}')
		if end < 0 {
			b.WriteString(template[start:])
			break
		}
		end += start
		spec := template[start+len("{input:") : end]
		b.WriteString(resolveInputRef(spec, inputs))
		i = end + 1
	}
	return b.String()
}

func resolveInputRef(spec string, inputs map[string]Value) string {
	name := spec
	optional := false
	var defaultVal string
	hasDefault := false

	if idx := strings.IndexByte(spec, ':'); idx >= 0 {
		name = spec[:idx]
		defaultVal = spec[idx+1:]
		hasDefault = true
	} else if strings.HasSuffix(spec, "?") {
		name = strings.TrimSuffix(spec, "?")
		optional = true
	}

	if v, ok := inputs[name]; ok && !v.IsNull() {
		return v.String()
	}
	if hasDefault {
		return defaultVal
	}
	if optional {
		return ""
	}
	return ""
}
