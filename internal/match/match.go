// Package match decides whether a resource falls within a constraint's
// scope. A constraint matches a resource iff the resource's (apiGroup, kind)
// pair is in the constraint's kind allow-list (empty list = match-all), AND
// the namespace allow-list is empty or contains the resource's namespace,
// AND the label selector, if any, is satisfied. Matched constraints carry no
// precedence; callers evaluate all of them and union the violations.
package match

import (
	"github.com/shrikeio/shrike/internal/types"
	"github.com/shrikeio/shrike/internal/util"
)

// Matches reports whether the constraint's match predicate holds for the
// resource attributes. Inert constraints never match.
func Matches(c types.Constraint, attrs types.ResourceAttributes) bool {
	if c.Inert {
		return false
	}
	if !kindMatches(c.Match.Kinds, attrs.APIGroup, attrs.Kind) {
		return false
	}
	if !namespaceMatches(c.Match.Namespaces, attrs.Namespace) {
		return false
	}
	return util.MatchesLabelSelector(c.Match.LabelSelector, attrs.Labels)
}

// Filter returns the subset of constraints matching the attributes, in the
// order given. Callers pass store snapshots, which are sorted by name, so
// the result is deterministic for a fixed policy version.
func Filter(constraints []types.Constraint, attrs types.ResourceAttributes) []types.Constraint {
	var matched []types.Constraint
	for _, c := range constraints {
		if Matches(c, attrs) {
			matched = append(matched, c)
		}
	}
	return matched
}

// kindMatches checks the (apiGroups, kinds) allow-list. An empty target list
// matches every resource type.
func kindMatches(targets []types.KindTarget, group, kind string) bool {
	if len(targets) == 0 {
		return true
	}
	for _, t := range targets {
		if groupListed(t.APIGroups, group) && stringListed(t.Kinds, kind) {
			return true
		}
	}
	return false
}

// groupListed treats an empty apiGroups list as a wildcard, matching
// Kubernetes webhook rule semantics.
func groupListed(groups []string, group string) bool {
	if len(groups) == 0 {
		return true
	}
	for _, g := range groups {
		if g == "*" || g == group {
			return true
		}
	}
	return false
}

func stringListed(list []string, s string) bool {
	for _, item := range list {
		if item == "*" || item == s {
			return true
		}
	}
	return false
}

func namespaceMatches(allowed []string, ns string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == ns {
			return true
		}
	}
	return false
}
