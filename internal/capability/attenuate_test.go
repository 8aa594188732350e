package capability

import (
	"reflect"
	"sort"
	"testing"
)

func sorted(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}

func TestAttenuateS4Scenario(t *testing.T) {
	parent := []string{"rye.execute.tool.rye.file-system.*"}
	child := []string{
		"rye.execute.tool.rye.file-system.fs_write",
		"rye.execute.tool.network.http_get",
	}
	got := Attenuate(parent, child)
	want := []string{"rye.execute.tool.rye.file-system.fs_write"}
	if !reflect.DeepEqual(sorted(got), sorted(want)) {
		t.Fatalf("Attenuate() = %v, want %v", got, want)
	}

	if !Check(got, "rye.execute.tool.rye.file-system.fs_write") {
		t.Fatalf("expected fs_write to be allowed")
	}
	if Check(got, "rye.execute.tool.rye.file-system.fs_read") {
		t.Fatalf("expected fs_read to be denied")
	}
}

func TestAttenuateAssociative(t *testing.T) {
	root := []string{"rye.execute.tool.*"}
	mid := []string{"rye.execute.tool.fs.*", "rye.execute.tool.net.get"}
	leaf := []string{"rye.execute.tool.fs.write", "rye.execute.tool.net.get", "rye.execute.tool.net.post"}

	lhs := Attenuate(Attenuate(root, mid), leaf)

	// intersect(mid, leaf) under the fnmatch-narrowing rule is exactly
	// Attenuate(mid, leaf), so attenuating root against that must equal
	// attenuating root->mid->leaf in two steps.
	midLeaf := Attenuate(mid, leaf)
	rhs := Attenuate(root, midLeaf)

	if !reflect.DeepEqual(sorted(lhs), sorted(rhs)) {
		t.Fatalf("attenuation not associative: lhs=%v rhs=%v", lhs, rhs)
	}
}

func TestCheckStructuralImplication(t *testing.T) {
	granted := []string{"rye.execute.tool.*"}
	if !Check(granted, "rye.search.tool.x.y") {
		t.Fatalf("rye.execute.* should satisfy rye.search.x.y")
	}
	if !Check(granted, "rye.load.tool.x.y") {
		t.Fatalf("rye.execute.* should satisfy rye.load.x.y")
	}
}

func TestCheckFailClosedOnEmpty(t *testing.T) {
	var granted []string
	if Check(granted, "rye.execute.tool.anything") {
		t.Fatalf("empty capability set must deny everything non-internal")
	}
}
