package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// includeDirectives are the keys a config document may use to pull in
// another file ahead of its own settings; "$include" is checked first
// so a document can still name a literal "include" settings key of its
// own without the two colliding.
var includeDirectives = []string{"$include", "include"}

// LoadRaw reads path into a single merged map, resolving every include
// directive it names (transitively, with cycle detection) before
// layering the file's own keys on top.
func LoadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}
	return (&loadState{visiting: map[string]bool{}}).load(path)
}

// loadState threads cycle-detection state through a single LoadRaw call
// without a package-level map or an extra parameter on every helper.
type loadState struct {
	visiting map[string]bool
}

// load resolves one file's includes, then merges its own document over
// the result — a file's keys always win over anything it includes, and
// later includes win over earlier ones.
func (s *loadState) load(path string) (map[string]any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if s.visiting[abs] {
		return nil, fmt.Errorf("config: include cycle at %s", abs)
	}
	s.visiting[abs] = true
	defer delete(s.visiting, abs)

	doc, err := readDocument(abs)
	if err != nil {
		return nil, err
	}
	includes, err := popIncludes(doc)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", abs, err)
	}

	merged := map[string]any{}
	baseDir := filepath.Dir(abs)
	for _, ref := range includes {
		incPath, err := s.resolveIncludePath(ref, baseDir)
		if err != nil {
			return nil, fmt.Errorf("config: %s: include %q: %w", abs, ref, err)
		}
		included, err := s.load(incPath)
		if err != nil {
			return nil, err
		}
		merged = layer(merged, included)
	}
	return layer(merged, doc), nil
}

// resolveIncludePath turns an include reference into a concrete file
// path. Relative references resolve against the including file's own
// directory first; if that candidate does not exist and
// RYE_CONFIG_INCLUDE_PATH names one or more additional search roots
// (colon-separated, like PATH), each is tried in order. This lets a
// project config include a shared fragment kept outside the project
// tree without spelling out an absolute path.
func (s *loadState) resolveIncludePath(ref, baseDir string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("empty include path")
	}
	if filepath.IsAbs(ref) {
		return ref, nil
	}
	candidate := filepath.Join(baseDir, ref)
	if _, err := os.Stat(candidate); err == nil {
		return candidate, nil
	}
	for _, root := range filepath.SplitList(os.Getenv("RYE_CONFIG_INCLUDE_PATH")) {
		if root == "" {
			continue
		}
		alt := filepath.Join(root, ref)
		if _, err := os.Stat(alt); err == nil {
			return alt, nil
		}
	}
	return candidate, nil
}

// documentParsers maps a lowercased file extension to the decoder used
// to turn its bytes into a raw settings map. Anything not listed here
// is read as YAML, the format every other layered document in the tree
// is written in.
var documentParsers = map[string]func([]byte) (map[string]any, error){
	".json":  decodeJSON5Document,
	".json5": decodeJSON5Document,
}

// readDocument loads path, expands environment variables in its raw
// text, and parses it by extension.
func readDocument(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	expanded := []byte(os.ExpandEnv(string(data)))
	if parse, ok := documentParsers[strings.ToLower(filepath.Ext(path))]; ok {
		return parse(expanded)
	}
	return decodeYAMLDocument(expanded)
}

func decodeJSON5Document(data []byte) (map[string]any, error) {
	var raw map[string]any
	if err := json5.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return nonNilMap(raw), nil
}

func decodeYAMLDocument(data []byte) (map[string]any, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	var raw map[string]any
	if err := decoder.Decode(&raw); err != nil {
		if err == io.EOF {
			return map[string]any{}, nil
		}
		return nil, err
	}
	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return nil, fmt.Errorf("expected a single YAML document")
	}
	return nonNilMap(raw), nil
}

func nonNilMap(raw map[string]any) map[string]any {
	if raw == nil {
		return map[string]any{}
	}
	return raw
}

// popIncludes removes whichever include directive doc carries, if any,
// and normalizes it to a slice of path references regardless of
// whether the document wrote one string or a list.
func popIncludes(doc map[string]any) ([]string, error) {
	var raw any
	for _, key := range includeDirectives {
		if v, ok := doc[key]; ok {
			raw = v
			delete(doc, key)
			break
		}
	}
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		refs := make([]string, len(v))
		for i, entry := range v {
			s, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("include entries must be strings")
			}
			refs[i] = s
		}
		return refs, nil
	default:
		return nil, fmt.Errorf("include must be a string or a list of strings")
	}
}

// layer applies src's keys over base, recursing into nested maps
// present on both sides so an included fragment can patch one nested
// field without clobbering its siblings.
func layer(base, src map[string]any) map[string]any {
	if base == nil {
		base = map[string]any{}
	}
	for key, val := range src {
		if nested, ok := val.(map[string]any); ok {
			if existing, ok := base[key].(map[string]any); ok {
				base[key] = layer(existing, nested)
				continue
			}
		}
		base[key] = val
	}
	return base
}

// decodeRawConfig strictly decodes a merged raw document into Config,
// rejecting any key Config doesn't declare so a typo'd setting fails
// loudly instead of silently being dropped.
func decodeRawConfig(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("config: re-encode merged document: %w", err)
	}
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return nil, fmt.Errorf("config: expected a single document")
	}
	return &cfg, nil
}
