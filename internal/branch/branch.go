// Package branch implements the branch resolver (C3): parsing remote-refs
// probe output, picking a sensible default branch, and validating a
// user-requested branch against what a remote actually advertises.
package branch

import (
	"sort"
	"strings"

	"github.com/kandev/orchestratorhub/internal/model"
)

// ParseBranches parses the tab-separated `<hash>\tref` lines produced by a
// remote-refs probe into an alphabetically sorted, de-duplicated list of
// branch names with refs/heads/ stripped. Tags, pull/merge-request refs,
// and HEAD are discarded. Invalid or empty input yields an empty list.
func ParseBranches(raw string) []string {
	seen := make(map[string]bool)
	var out []string

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 {
			continue
		}
		ref := strings.TrimSpace(parts[1])
		name, ok := strings.CutPrefix(ref, "refs/heads/")
		if !ok {
			continue
		}
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}

	sort.Strings(out)
	return out
}

// DefaultBranch picks the conventional default from a branch list: main,
// else master, else the alphabetically first entry, else empty. The result
// does not depend on the order of list or on duplicates in it.
func DefaultBranch(list []string) string {
	for _, b := range list {
		if b == "main" {
			return b
		}
	}
	for _, b := range list {
		if b == "master" {
			return b
		}
	}
	first := ""
	for i, b := range list {
		if i == 0 || b < first {
			first = b
		}
	}
	return first
}

type suggestion struct {
	name  string
	score float64
}

// Validate checks requested against available, scoring similarity when
// there is no exact match and offering up to three suggestions.
func Validate(requested string, available []string) model.BranchValidation {
	if requested == "" {
		return model.BranchValidation{IsValid: false, Message: "branch name is empty", AvailableBranches: available}
	}
	if len(available) == 0 {
		return model.BranchValidation{IsValid: false, Message: "no available branches", AvailableBranches: available}
	}
	for _, b := range available {
		if b == requested {
			return model.BranchValidation{IsValid: true, Message: "exact match", AvailableBranches: available}
		}
	}

	suggestions := scoreAndRank(requested, available)
	msg := "branch not found"
	var top string
	if len(suggestions) > 0 {
		top = suggestions[0].name
	} else {
		top = DefaultBranch(available)
	}
	return model.BranchValidation{
		IsValid:           false,
		Message:           msg,
		SuggestedBranch:   top,
		AvailableBranches: available,
	}
}

// scoreAndRank computes similarity(requested, candidate) for every
// candidate, keeps entries scoring above 30, and returns up to three
// sorted descending by score.
func scoreAndRank(requested string, available []string) []suggestion {
	var ranked []suggestion
	for _, b := range available {
		s := similarity(requested, b)
		if s > 30 {
			ranked = append(ranked, suggestion{name: b, score: s})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	if len(ranked) > 3 {
		ranked = ranked[:3]
	}
	return ranked
}

// similarity scores how close a and b are, case-insensitively: exact match
// scores 100, containment 80, prefix 60, otherwise an edit-distance-based
// score in [0, 100).
func similarity(a, b string) float64 {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	switch {
	case la == lb:
		return 100
	case strings.Contains(la, lb) || strings.Contains(lb, la):
		return 80
	case strings.HasPrefix(la, lb) || strings.HasPrefix(lb, la):
		return 60
	}
	maxLen := len(la)
	if len(lb) > maxLen {
		maxLen = len(lb)
	}
	if maxLen == 0 {
		return 0
	}
	dist := levenshtein(la, lb)
	score := float64(maxLen-dist) / float64(maxLen) * 100
	if score < 0 {
		return 0
	}
	return score
}

// levenshtein computes the classic edit distance between two strings using
// a single-row dynamic-programming table.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			m := del
			if ins < m {
				m = ins
			}
			if sub < m {
				m = sub
			}
			curr[j] = m
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// OptimalBranch returns the branch to actually use: userRequested if
// non-empty and valid, otherwise the top suggestion or default, with a
// flag reporting whether the user's own choice was honored.
func OptimalBranch(userRequested string, available []string) (branch string, wasUserSpecified bool) {
	if userRequested != "" {
		v := Validate(userRequested, available)
		if v.IsValid {
			return userRequested, true
		}
		if v.SuggestedBranch != "" {
			return v.SuggestedBranch, false
		}
	}
	return DefaultBranch(available), false
}
