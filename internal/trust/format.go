package trust

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// FileKind selects which embedding convention Sign/Verify use.
type FileKind int

const (
	KindMarkdown FileKind = iota
	KindCode
	KindJSON
	KindTOML
)

// commentPrefixes maps a file extension to its line-comment prefix, for
// KindCode signing. Looked up "per extension via a configuration file" in
// spec.md §6; this is the built-in default table, extendable at runtime.
var commentPrefixes = map[string]string{
	".go":   "//",
	".py":   "#",
	".sh":   "#",
	".rb":   "#",
	".yaml": "#",
	".yml":  "#",
	".js":   "//",
	".ts":   "//",
}

// CommentPrefix returns the configured line-comment prefix for ext
// (including the leading dot), or "#" if unknown.
func CommentPrefix(ext string) string {
	if p, ok := commentPrefixes[ext]; ok {
		return p
	}
	return "#"
}

// RegisterCommentPrefix adds or overrides the comment prefix for an
// extension.
func RegisterCommentPrefix(ext, prefix string) {
	commentPrefixes[ext] = prefix
}

// Strip removes any existing signature line from content, returning the
// canonical, unsigned body. For code files the shebang (if present) is
// preserved untouched ahead of the stripped body.
func Strip(kind FileKind, content []byte) []byte {
	switch kind {
	case KindJSON:
		return stripJSONSignature(content)
	default:
		_, body, _ := ExtractLine(kind, content)
		return body
	}
}

// ExtractLine locates and removes the embedded signature line (if any),
// returning the line itself and the remaining body.
func ExtractLine(kind FileKind, content []byte) (line string, body []byte, ok bool) {
	switch kind {
	case KindJSON:
		return extractJSONSignature(content)
	default:
		return extractLineSignature(kind, content)
	}
}

// extractLineSignature handles markdown/code/TOML, where the signature is
// embedded as the first line (or the line after a shebang, for code).
func extractLineSignature(kind FileKind, content []byte) (string, []byte, bool) {
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) == 0 {
		return "", content, false
	}

	idx := 0
	if kind == KindCode && len(lines) > 0 && strings.HasPrefix(lines[0], "#!") {
		idx = 1
	}
	if idx >= len(lines) {
		return "", content, false
	}

	candidate := lines[idx]
	inner, ok := unwrapSignatureLine(kind, candidate)
	if !ok {
		return "", content, false
	}

	// Cut the signature line out of the original bytes, so the body keeps
	// every other byte as it was (including a trailing newline).
	start := 0
	for i := 0; i < idx; i++ {
		start += bytes.IndexByte(content[start:], '\n') + 1
	}
	end := len(content)
	if nl := bytes.IndexByte(content[start:], '\n'); nl >= 0 {
		end = start + nl + 1
	}
	body := append(append([]byte(nil), content[:start]...), content[end:]...)
	return inner, body, true
}

// unwrapSignatureLine strips the markdown/code comment wrapper around the
// inner "rye:signed:..." payload, returning it unwrapped.
func unwrapSignatureLine(kind FileKind, line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	switch kind {
	case KindMarkdown:
		if strings.HasPrefix(trimmed, "<!--") && strings.HasSuffix(trimmed, "-->") {
			inner := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(trimmed, "<!--"), "-->"))
			if strings.HasPrefix(inner, "rye:signed:") {
				return inner, true
			}
		}
	case KindCode, KindTOML:
		for _, prefix := range []string{"//", "#"} {
			if strings.HasPrefix(trimmed, prefix) {
				inner := strings.TrimSpace(strings.TrimPrefix(trimmed, prefix))
				if strings.HasPrefix(inner, "rye:signed:") {
					return inner, true
				}
			}
		}
	}
	return "", false
}

// Embed wraps the signature line in the convention appropriate to kind and
// prepends it to body (after any shebang, for code files).
func Embed(kind FileKind, body []byte, line string) ([]byte, error) {
	switch kind {
	case KindJSON:
		return embedJSONSignature(body, line)
	case KindMarkdown:
		wrapped := fmt.Sprintf("<!-- %s -->\n", line)
		return append([]byte(wrapped), body...), nil
	case KindCode, KindTOML:
		prefix := "#"
		if kind == KindCode {
			prefix = "//"
		}
		wrapped := fmt.Sprintf("%s %s\n", prefix, line)
		if kind == KindCode && bytes.HasPrefix(body, []byte("#!")) {
			nl := bytes.IndexByte(body, '\n')
			if nl < 0 {
				nl = len(body)
			} else {
				nl++
			}
			out := append(append([]byte(nil), body[:nl]...), []byte(wrapped)...)
			return append(out, body[nl:]...), nil
		}
		return append([]byte(wrapped), body...), nil
	default:
		return nil, fmt.Errorf("trust: unknown file kind")
	}
}

func stripJSONSignature(content []byte) []byte {
	_, body, _ := extractJSONSignature(content)
	return body
}

// extractJSONSignature removes the top-level "_signature" field from a
// JSON document, returning its value and the re-marshaled remainder.
func extractJSONSignature(content []byte) (string, []byte, bool) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(content, &doc); err != nil {
		return "", content, false
	}
	raw, ok := doc["_signature"]
	if !ok {
		return "", content, false
	}
	var sig string
	if err := json.Unmarshal(raw, &sig); err != nil {
		return "", content, false
	}
	delete(doc, "_signature")
	out, err := json.Marshal(doc)
	if err != nil {
		return "", content, false
	}
	return sig, out, true
}

func embedJSONSignature(body []byte, line string) ([]byte, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("trust: embed signature into invalid json: %w", err)
	}
	sigBytes, err := json.Marshal(line)
	if err != nil {
		return nil, err
	}
	doc["_signature"] = sigBytes
	return json.Marshal(doc)
}
