package reconcile

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ActivityOption is one node of the tree of bookable options (e.g. a choir
// season, then within it a rehearsal weekend, then within that a meal
// plan) that pricing rules are expressed in terms of. Path is a
// materialized "/1/4/9/" ancestor chain, used to test containment without
// walking parent pointers at evaluation time.
type ActivityOption struct {
	ID       int64
	Name     string
	ParentID int64
	Path     string
}

// ActivityOptionRegistry indexes a tree of ActivityOptions by id and
// answers containment queries: is ancestorID this option, or one of its
// ancestors?
type ActivityOptionRegistry struct {
	byID map[int64]*ActivityOption
}

// NewActivityOptionRegistry builds a registry from a flat option list,
// computing each option's materialized path from its parent chain.
func NewActivityOptionRegistry(options []*ActivityOption) (*ActivityOptionRegistry, error) {
	r := &ActivityOptionRegistry{byID: make(map[int64]*ActivityOption, len(options))}
	for _, o := range options {
		r.byID[o.ID] = o
	}
	for _, o := range options {
		path, err := r.computePath(o.ID, make(map[int64]bool))
		if err != nil {
			return nil, err
		}
		o.Path = path
	}
	return r, nil
}

func (r *ActivityOptionRegistry) computePath(id int64, seen map[int64]bool) (string, error) {
	if seen[id] {
		return "", fmt.Errorf("pricing: activity option %d participates in a parent cycle", id)
	}
	seen[id] = true
	o, ok := r.byID[id]
	if !ok {
		return "", fmt.Errorf("pricing: unknown activity option %d", id)
	}
	if o.ParentID == 0 {
		return fmt.Sprintf("/%d/", id), nil
	}
	parentPath, err := r.computePath(o.ParentID, seen)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%d/", parentPath, id), nil
}

// Contains reports whether optionID is ancestorID itself, or a descendant
// of it in the tree.
func (r *ActivityOptionRegistry) Contains(ancestorID, optionID int64) bool {
	if ancestorID == optionID {
		return true
	}
	option, ok := r.byID[optionID]
	if !ok {
		return false
	}
	return strings.Contains(option.Path, fmt.Sprintf("/%d/", ancestorID))
}

// PricingRule is one line of the pricing DSL: a set of options that must
// all be satisfied by a transaction's selected options, a price, and
// optional human-readable comment and filter slug for reporting.
//
//	[opt1, opt2] -> PRICE ["comment"] [<slug>]
//
// CountMultiple mirrors a flag the original pricing model exposed
// (whether selecting the same option more than once should multiply the
// price); OptsMatch and EvaluatePricing never consult it, and
// ParsePricingRule leaves it false. It is kept only so data migrated from
// the original format round-trips without loss.
type PricingRule struct {
	Opts          []int64
	Price         Money
	Comment       string
	FilterSlug    string
	CountMultiple bool
}

var pricingLinePattern = regexp.MustCompile(
	`^\s*\[\s*([0-9,\s]*)\s*\]\s*->\s*([0-9]+(?:[.,][0-9]+)?)\s*(?:"([^"]*)")?\s*(?:<(\w+)>)?\s*$`,
)

// ParsePricingRule parses a single line of the pricing DSL.
func ParsePricingRule(line string, currency Currency) (PricingRule, error) {
	m := pricingLinePattern.FindStringSubmatch(line)
	if m == nil {
		return PricingRule{}, fmt.Errorf("pricing: malformed rule line %q", line)
	}

	var opts []int64
	if trimmed := strings.TrimSpace(m[1]); trimmed != "" {
		for _, part := range strings.Split(trimmed, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				return PricingRule{}, fmt.Errorf("pricing: bad option id in rule %q: %w", line, err)
			}
			opts = append(opts, id)
		}
	}

	price, err := ParseMoney(m[2], currency)
	if err != nil {
		return PricingRule{}, fmt.Errorf("pricing: bad price in rule %q: %w", line, err)
	}

	return PricingRule{
		Opts:       opts,
		Price:      price,
		Comment:    m[3],
		FilterSlug: m[4],
	}, nil
}

// ParsePricingRules parses one rule per non-blank, non-comment line.
// Lines beginning with '#' are treated as comments and skipped.
func ParsePricingRules(lines []string, currency Currency) ([]PricingRule, error) {
	var rules []PricingRule
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		rule, err := ParsePricingRule(line, currency)
		if err != nil {
			return nil, fmt.Errorf("pricing: line %d: %w", i+1, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// PricingData carries the per-transaction facts a pricing rule is matched
// against: the set of activity options the member actually picked.
type PricingData struct {
	SelectedOpts []int64
}

// OptsMatch reports whether every option a rule requires is satisfied by
// the transaction's selected options, where "satisfied" means the
// selection is the required option itself or a descendant of it.
func OptsMatch(rule PricingRule, data PricingData, registry *ActivityOptionRegistry) bool {
	for _, required := range rule.Opts {
		satisfied := false
		for _, selected := range data.SelectedOpts {
			if registry.Contains(required, selected) {
				satisfied = true
				break
			}
		}
		if !satisfied {
			return false
		}
	}
	return true
}

// EvaluatePricing returns the first rule (in list order) whose options are
// all satisfied by data, or ok=false if none match — callers fall back to
// a configured no_match_default in that case.
func EvaluatePricing(rules []PricingRule, data PricingData, registry *ActivityOptionRegistry) (PricingRule, bool) {
	for _, rule := range rules {
		if OptsMatch(rule, data, registry) {
			return rule, true
		}
	}
	return PricingRule{}, false
}
