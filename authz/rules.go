// Package authz implements the access-control engine that gates every CA
// operation. Administrators belong to admin groups; each group carries a set
// of access rules over hierarchical resource paths. Evaluation is
// fail-closed: the most specific matching rule wins, and on equal
// specificity a DENY beats an ALLOW.
package authz

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RuleState is the effect of an access rule.
type RuleState uint8

const (
	// NotUsed is equivalent to the rule being absent: evaluation falls
	// through to the next less-specific match.
	NotUsed RuleState = iota

	// Allow grants access to the rule's resource.
	Allow

	// Deny refuses access to the rule's resource.
	Deny
)

// RuleStateTexts are the wire/CLI spellings of the rule states, in the
// order accepted by ParseRuleState.
var RuleStateTexts = []string{"NOT_USED", "ALLOW", "DENY"}

func (s RuleState) String() string {
	if int(s) < len(RuleStateTexts) {
		return RuleStateTexts[s]
	}
	return fmt.Sprintf("RuleState(%d)", uint8(s))
}

// ParseRuleState converts a CLI/API spelling into a RuleState.
func ParseRuleState(text string) (RuleState, error) {
	for i, t := range RuleStateTexts {
		if strings.EqualFold(text, t) {
			return RuleState(i), nil
		}
	}
	return NotUsed, fmt.Errorf("unknown rule state %q (want one of %s)", text, strings.Join(RuleStateTexts, ", "))
}

// MarshalJSON encodes the state as its text form.
func (s RuleState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes the text form.
func (s *RuleState) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return err
	}
	parsed, err := ParseRuleState(text)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// AccessRule controls access to one resource path. A recursive rule also
// applies to every descendant of its resource unless a more specific rule
// overrides it there.
type AccessRule struct {
	Resource  string    `json:"resource"`
	State     RuleState `json:"state"`
	Recursive bool      `json:"recursive"`
}

// AdminGroup is a named set of access rules and administrator memberships.
// Rules are uniquely keyed by resource within the group.
type AdminGroup struct {
	Name    string                `json:"name"`
	Rules   map[string]AccessRule `json:"rules"`
	Members map[string]bool       `json:"members"`
}

// clone returns a deep copy, used when preparing a mutation so concurrent
// readers never observe a half-edited group.
func (g *AdminGroup) clone() *AdminGroup {
	cp := &AdminGroup{
		Name:    g.Name,
		Rules:   make(map[string]AccessRule, len(g.Rules)),
		Members: make(map[string]bool, len(g.Members)),
	}
	for k, v := range g.Rules {
		cp.Rules[k] = v
	}
	for k, v := range g.Members {
		cp.Members[k] = v
	}
	return cp
}

// Decision is the outcome of an authorization check. It is a value, not an
// error: a Deny is a normal result.
type Decision uint8

const (
	// DecisionDeny refuses the operation. It is the zero value, so any
	// evaluation path that falls through denies.
	DecisionDeny Decision = iota

	// DecisionAllow permits the operation.
	DecisionAllow
)

func (d Decision) String() string {
	if d == DecisionAllow {
		return "ALLOW"
	}
	return "DENY"
}

// Allowed reports whether the decision permits the operation.
func (d Decision) Allowed() bool {
	return d == DecisionAllow
}

// NormalizeResource canonicalizes a resource path: it must begin with "/",
// and trailing slashes are stripped (except for the root itself).
func NormalizeResource(resource string) (string, error) {
	if resource == "" || resource[0] != '/' {
		return "", fmt.Errorf("resource %q must start with '/'", resource)
	}
	for resource != "/" && strings.HasSuffix(resource, "/") {
		resource = strings.TrimSuffix(resource, "/")
	}
	if strings.Contains(resource, "//") {
		return "", fmt.Errorf("resource %q contains an empty segment", resource)
	}
	return resource, nil
}

// descendantOf reports whether resource is a strict descendant of ancestor
// at a path-segment boundary: "/ca" covers "/ca/x" but not "/cart".
func descendantOf(resource, ancestor string) bool {
	if ancestor == "/" {
		return resource != "/"
	}
	return strings.HasPrefix(resource, ancestor+"/")
}

// matchGroup evaluates one group's rules against a resource path. It
// returns the winning state and the specificity (length of the matched
// resource), or ok=false when no rule applies. NOT_USED rules fall through
// to the next less-specific match.
func matchGroup(g *AdminGroup, resource string) (state RuleState, specificity int, ok bool) {
	best := -1
	for _, rule := range g.Rules {
		applies := rule.Resource == resource ||
			(rule.Recursive && descendantOf(resource, rule.Resource))
		if !applies || rule.State == NotUsed {
			continue
		}
		if len(rule.Resource) > best {
			best = len(rule.Resource)
			state = rule.State
		}
	}
	if best < 0 {
		return NotUsed, 0, false
	}
	return state, best, true
}

// Evaluate combines per-group verdicts for an admin over a resource path.
// An admin is allowed iff some group the admin belongs to allows the
// resource and no group denies it at equal-or-longer specificity; with no
// matching rule at all the default is Deny.
func Evaluate(admin, resource string, groups []*AdminGroup) Decision {
	bestAllow, bestDeny := -1, -1
	for _, g := range groups {
		if g == nil || !g.Members[admin] {
			continue
		}
		state, specificity, ok := matchGroup(g, resource)
		if !ok {
			continue
		}
		switch state {
		case Allow:
			if specificity > bestAllow {
				bestAllow = specificity
			}
		case Deny:
			if specificity > bestDeny {
				bestDeny = specificity
			}
		}
	}
	if bestAllow >= 0 && bestAllow > bestDeny {
		return DecisionAllow
	}
	return DecisionDeny
}
