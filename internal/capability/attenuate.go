package capability

// Attenuate implements spec.md §4.5's attenuation rule: for each child cap
// c, find a parent cap p such that Match(p, c) (parent covers child) and
// keep c; else if Match(c, p) (child is wider than some parent cap),
// narrow to p; else drop c. The result never grants a child more than its
// parent declared — testable property 5 requires this operation be
// associative, i.e. attenuate(attenuate(root, mid), leaf) ==
// attenuate(root, intersect(mid, leaf)).
func Attenuate(parentCaps, childCaps []string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(c string) {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}

	for _, c := range childCaps {
		kept := false
		narrowed := ""
		for _, p := range parentCaps {
			if Match(p, c) {
				kept = true
				break
			}
			if narrowed == "" && Match(c, p) {
				narrowed = p
			}
		}
		switch {
		case kept:
			add(c)
		case narrowed != "":
			add(narrowed)
		default:
			// dropped: neither parent covers child nor is child wider
			// than any single parent cap
		}
	}
	return out
}
