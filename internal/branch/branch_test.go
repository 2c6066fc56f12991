package branch

import (
	"reflect"
	"sort"
	"testing"
)

func TestParseBranches(t *testing.T) {
	raw := "abc123\trefs/heads/main\n" +
		"def456\trefs/heads/develop\n" +
		"aaa111\trefs/tags/v1.0.0\n" +
		"bbb222\tHEAD\n" +
		"ccc333\trefs/pull/12/head\n" +
		"ddd444\trefs/heads/main\n"
	got := ParseBranches(raw)
	want := []string{"develop", "main"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseBranches = %v, want %v", got, want)
	}
}

func TestParseBranchesInvalidEmpty(t *testing.T) {
	if got := ParseBranches(""); len(got) != 0 {
		t.Errorf("ParseBranches(empty) = %v, want empty", got)
	}
	if got := ParseBranches("garbage no tabs here"); len(got) != 0 {
		t.Errorf("ParseBranches(garbage) = %v, want empty", got)
	}
}

func TestParseBranchesIdempotentUnderDuplication(t *testing.T) {
	raw := "a\trefs/heads/main\nb\trefs/heads/dev\n"
	doubled := raw + raw
	got1 := ParseBranches(raw)
	got2 := ParseBranches(doubled)
	if !reflect.DeepEqual(got1, got2) {
		t.Errorf("ParseBranches not idempotent under duplication: %v vs %v", got1, got2)
	}
}

func TestDefaultBranch(t *testing.T) {
	cases := []struct {
		list []string
		want string
	}{
		{[]string{"develop", "main", "master"}, "main"},
		{[]string{"develop", "master"}, "master"},
		{[]string{"feature/x", "develop"}, "develop"},
		{nil, ""},
	}
	for _, c := range cases {
		if got := DefaultBranch(c.list); got != c.want {
			t.Errorf("DefaultBranch(%v) = %q, want %q", c.list, got, c.want)
		}
	}
}

func TestDefaultBranchStableUnderSortAndDedup(t *testing.T) {
	a := []string{"zeta", "main", "alpha", "main"}
	b := ParseBranchesFromNames(a)
	if DefaultBranch(a) != DefaultBranch(b) {
		t.Errorf("DefaultBranch not stable under sort+dedup")
	}
}

// ParseBranchesFromNames is a test helper that sorts and dedupes a raw name
// list the same way ParseBranches does, without requiring ref-line framing.
func ParseBranchesFromNames(names []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

func TestValidateEmptyRequested(t *testing.T) {
	v := Validate("", []string{"main"})
	if v.IsValid || v.Message != "branch name is empty" {
		t.Errorf("Validate(empty) = %+v", v)
	}
}

func TestValidateEmptyAvailable(t *testing.T) {
	v := Validate("main", nil)
	if v.IsValid || v.Message != "no available branches" {
		t.Errorf("Validate(no available) = %+v", v)
	}
}

func TestValidateExactMatch(t *testing.T) {
	v := Validate("main", []string{"main", "develop"})
	if !v.IsValid {
		t.Errorf("Validate(exact) = %+v, want valid", v)
	}
}

func TestValidateBranchFallback(t *testing.T) {
	v := Validate("nonexistent-branch", []string{"main", "develop", "feature/auth"})
	if v.IsValid {
		t.Errorf("Validate(typo) should be invalid, got %+v", v)
	}
	if v.SuggestedBranch != "main" {
		t.Errorf("SuggestedBranch = %q, want main", v.SuggestedBranch)
	}
}

func TestOptimalBranchHonorsValidUserChoice(t *testing.T) {
	b, userSpecified := OptimalBranch("develop", []string{"main", "develop"})
	if b != "develop" || !userSpecified {
		t.Errorf("OptimalBranch = (%q, %v), want (develop, true)", b, userSpecified)
	}
}

func TestOptimalBranchFallsBackOnInvalid(t *testing.T) {
	b, userSpecified := OptimalBranch("nope", []string{"main", "develop"})
	if userSpecified {
		t.Errorf("OptimalBranch should not report user-specified for invalid branch")
	}
	if b == "" {
		t.Errorf("OptimalBranch should fall back to a non-empty branch")
	}
}
