package capability

// Hierarchy lists, for a capability string, the other capability strings it
// implicitly grants. Ported from the original implementation's
// CAPABILITY_HIERARCHY: "rye.all" grants every primary, "rye.execute"
// implies "rye.search"/"rye.load"/"rye.help", and "fs.write" implies
// "fs.read". This flat expansion runs as a pre-pass before the dotted-glob
// implication in Match/Implies, since the two mechanisms are
// complementary (SPEC_FULL.md §12).
var Hierarchy = map[string][]string{
	"rye.all": {
		"rye.execute",
		"rye.search",
		"rye.load",
		"rye.sign",
		"rye.help",
	},
	"rye.execute": {
		"rye.search",
		"rye.load",
		"rye.help",
	},
	"fs.write": {"fs.read"},
}

// Expand returns caps plus every capability implied by the flat Hierarchy
// table, iterating to a fixed point (a hierarchy entry's targets may
// themselves have further implications).
func Expand(caps []string) []string {
	seen := make(map[string]bool, len(caps))
	var order []string
	for _, c := range caps {
		if !seen[c] {
			seen[c] = true
			order = append(order, c)
		}
	}
	for changed := true; changed; {
		changed = false
		for _, c := range append([]string(nil), order...) {
			for _, implied := range Hierarchy[c] {
				if !seen[implied] {
					seen[implied] = true
					order = append(order, implied)
					changed = true
				}
			}
		}
	}
	return order
}

// internalPrefix is the capability-string prefix of the
// rye.agent.threads.internal.* tools. The harness does not consult it:
// its fail-closed allowance is its own internalToolPrefix
// ("threads.internal.") matched against the item id of an execute/tool
// check.
const internalPrefix = "rye.agent.threads.internal."

// IsInternal reports whether a capability string starts with
// internalPrefix.
func IsInternal(cap string) bool {
	return len(cap) >= len(internalPrefix) && cap[:len(internalPrefix)] == internalPrefix
}
