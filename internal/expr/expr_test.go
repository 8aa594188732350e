package expr

import "testing"

func evalBool(t *testing.T, src string, ctx Context) bool {
	t.Helper()
	node, err := Parse(src)
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	v, err := node.Eval(ctx)
	if err != nil {
		t.Fatalf("eval %q: %v", src, err)
	}
	return v.Truthy()
}

func TestLiteralsAndComparisons(t *testing.T) {
	cases := []struct {
		src  string
		want bool
	}{
		{"1 == 1", true},
		{"1 == 2", false},
		{"2 > 1", true},
		{"\"a\" < \"b\"", true},
		{"true and false", false},
		{"true or false", true},
		{"not false", true},
		{"1 + 2 == 3", true},
		{"2 * 3 - 1 == 5", true},
		{"(1 + 2) * 3 == 9", true},
	}
	for _, c := range cases {
		if got := evalBool(t, c.src, Context{}); got != c.want {
			t.Errorf("%q: got %v, want %v", c.src, got, c.want)
		}
	}
}

func TestDottedPathAccess(t *testing.T) {
	ctx := Context{
		"state": map[string]any{
			"items": []any{
				map[string]any{"name": "alpha"},
				map[string]any{"name": "beta"},
			},
		},
	}
	if !evalBool(t, "state.items.0.name == \"alpha\"", ctx) {
		t.Fatalf("expected path resolution to find alpha")
	}
	if !evalBool(t, "state.items.1.name == \"beta\"", ctx) {
		t.Fatalf("expected path resolution to find beta")
	}
}

func TestMissingPathResolvesToNull(t *testing.T) {
	ctx := Context{"state": map[string]any{}}
	node, err := Parse("state.missing")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	v, err := node.Eval(ctx)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if !v.IsNull() {
		t.Fatalf("expected null for missing path, got %+v", v)
	}
}

func TestNullComparisonsAreFalseExceptExists(t *testing.T) {
	ctx := Context{"state": map[string]any{}}
	if evalBool(t, "state.missing == 1", ctx) {
		t.Fatalf("null == 1 should be false")
	}
	if evalBool(t, "state.missing > 0", ctx) {
		t.Fatalf("null > 0 should be false")
	}
	if !evalBool(t, "not exists state.missing", ctx) {
		t.Fatalf("exists on a missing path should be false, so 'not exists' should be true")
	}
	ctx2 := Context{"state": map[string]any{"present": "x"}}
	if !evalBool(t, "exists state.present", ctx2) {
		t.Fatalf("exists on a present path should be true")
	}
}

func TestMembership(t *testing.T) {
	ctx := Context{"tags": []any{"a", "b", "c"}}
	if !evalBool(t, "\"b\" in tags", ctx) {
		t.Fatalf("expected 'b' in tags")
	}
	if !evalBool(t, "\"z\" not in tags", ctx) {
		t.Fatalf("expected 'z' not in tags")
	}
}

// TestRejectsFunctionCallsAttributeAccessAndAssignment covers testable
// property 9: the evaluator rejects function-call syntax, attribute
// access not reducible to dotted paths, and assignment.
func TestRejectsFunctionCallsAttributeAccessAndAssignment(t *testing.T) {
	invalid := []string{
		"foo()",
		"foo.bar()",
		"x = 1",
		"len(tags)",
	}
	for _, src := range invalid {
		if _, err := Parse(src); err == nil {
			t.Errorf("expected parse error for %q, got none", src)
		}
	}
}

func TestAcceptsEveryValidGrammarProduction(t *testing.T) {
	valid := []string{
		"1", "\"s\"", "true", "false", "null",
		"state.value",
		"state.value.0",
		"1 == 1", "1 != 2", "1 < 2", "2 > 1", "1 <= 1", "2 >= 2",
		"true and false", "true or false", "not true",
		"1 in tags", "1 not in tags",
		"1 + 2", "1 - 2", "1 * 2", "1 / 2",
		"exists state.value",
		"(1 + 2) * 3",
	}
	for _, src := range valid {
		if _, err := Parse(src); err != nil {
			t.Errorf("expected %q to parse, got error: %v", src, err)
		}
	}
}

func TestInterpolateWholeExpressionReturnsRawValue(t *testing.T) {
	ctx := Context{"count": 3.0}
	v, err := Interpolate("${count}", ctx)
	if err != nil {
		t.Fatalf("interpolate: %v", err)
	}
	if v.Kind != KindNumber || v.Num != 3.0 {
		t.Fatalf("expected raw number value, got %+v", v)
	}
}

func TestInterpolateMixedTextCoalescesToString(t *testing.T) {
	ctx := Context{"name": "world"}
	v, err := Interpolate("hello ${name}!", ctx)
	if err != nil {
		t.Fatalf("interpolate: %v", err)
	}
	if v.Kind != KindString || v.Str != "hello world!" {
		t.Fatalf("unexpected interpolation result: %+v", v)
	}
}

func TestInterpolateInputRefVariants(t *testing.T) {
	inputs := map[string]Value{
		"name": StringValue("Ada"),
	}
	got := InterpolateInput("hello {input:name}", inputs)
	if got != "hello Ada" {
		t.Fatalf("unexpected: %q", got)
	}
	got = InterpolateInput("hi {input:missing?}", inputs)
	if got != "hi " {
		t.Fatalf("unexpected optional handling: %q", got)
	}
	got = InterpolateInput("hi {input:missing:stranger}", inputs)
	if got != "hi stranger" {
		t.Fatalf("unexpected default handling: %q", got)
	}
}
