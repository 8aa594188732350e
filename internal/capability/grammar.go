// Package capability implements the rye capability-string grammar,
// fnmatch-style matching, structural implication, and hierarchy
// expansion used by the safety harness to decide whether a thread may
// dispatch a given primary operation against a given item.
package capability

import (
	"path"
	"strings"
)

// Primary is one of the four universal operations on items, plus the
// low-privilege "help" introspection primary carried over from the
// original implementation's capability hierarchy.
type Primary string

const (
	PrimaryExecute Primary = "execute"
	PrimarySearch  Primary = "search"
	PrimaryLoad    Primary = "load"
	PrimarySign    Primary = "sign"
	PrimaryHelp    Primary = "help"
)

// ItemType is the kind of item a capability scopes over.
type ItemType string

const (
	ItemTool      ItemType = "tool"
	ItemDirective ItemType = "directive"
	ItemKnowledge ItemType = "knowledge"
)

// Wildcard is the single segment that matches anything.
const Wildcard = "*"

// Build assembles a capability string of the canonical grammar
// "rye.<primary>.<item_type>.<dotted_item_id>". An empty itemID yields
// "rye.<primary>.<item_type>" (used for search, which has no item id).
func Build(primary Primary, itemType ItemType, itemID string) string {
	if itemID == "" {
		return strings.Join([]string{"rye", string(primary), string(itemType)}, ".")
	}
	return strings.Join([]string{"rye", string(primary), string(itemType), itemID}, ".")
}

// Match reports whether capability pattern p covers the concrete (or
// pattern) capability c, using fnmatch glob semantics on the dotted form.
// Segments may contain "*" as a path.Match-style glob; additionally a bare
// "*" segment matches any number of trailing dotted segments, since the
// dotted id portion of a capability string is itself variable-length.
func Match(pattern, cap string) bool {
	if pattern == cap {
		return true
	}
	pSegs := strings.Split(pattern, ".")
	cSegs := strings.Split(cap, ".")

	i := 0
	for ; i < len(pSegs); i++ {
		if pSegs[i] == Wildcard {
			// A trailing "*" segment absorbs the rest of cap's segments.
			if i == len(pSegs)-1 {
				return i <= len(cSegs)
			}
			// A "*" mid-pattern matches exactly one segment (fnmatch glob).
			if i >= len(cSegs) {
				return false
			}
			continue
		}
		if i >= len(cSegs) {
			return false
		}
		ok, err := path.Match(pSegs[i], cSegs[i])
		if err != nil || !ok {
			return false
		}
	}
	return i == len(cSegs)
}

// impliedBy lists, for each primary, the primaries it structurally implies
// at the glob level (spec.md §3): "rye.execute.*" implies "rye.search.*"
// and "rye.load.*"; "rye.sign.*" implies "rye.load.*".
var impliedBy = map[Primary][]Primary{
	PrimaryExecute: {PrimarySearch, PrimaryLoad},
	PrimarySign:    {PrimaryLoad},
}

// Implies reports whether granted (a primary.* capability) structurally
// covers required (another primary.* capability) via §3's implication
// table, independent of fnmatch on the remaining segments.
func Implies(granted, required string) bool {
	gp, gRest, ok := splitPrimary(granted)
	if !ok {
		return false
	}
	rp, rRest, ok := splitPrimary(required)
	if !ok {
		return false
	}
	if gp == rp {
		return Match(gRest, rRest) || Match(granted, required)
	}
	for _, implied := range impliedBy[gp] {
		if implied == rp {
			return Match(gRest, rRest) || gRest == Wildcard
		}
	}
	return false
}

// splitPrimary splits "rye.<primary>.<rest...>" into primary and the
// remaining dotted segment, both as strings so they can be fnmatch-ed
// independently of the primary prefix.
func splitPrimary(s string) (Primary, string, bool) {
	parts := strings.SplitN(s, ".", 3)
	if len(parts) < 2 || parts[0] != "rye" {
		return "", "", false
	}
	rest := ""
	if len(parts) == 3 {
		rest = parts[2]
	}
	return Primary(parts[1]), rest, true
}

// Check reports whether any capability in granted (after hierarchy
// expansion) covers required, either by direct fnmatch or by structural
// implication. This implements testable property 3 in spec.md §8.
func Check(granted []string, required string) bool {
	expanded := Expand(granted)
	for _, g := range expanded {
		if Match(g, required) || Implies(g, required) {
			return true
		}
	}
	return false
}
