package sla

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/gobwas/glob"
	"github.com/jellydator/ttlcache/v3"

	"riskflow/backend/internal/repository"
	"riskflow/backend/pkg/models"
)

type compiledRule struct {
	rule    *models.EscalationRule
	trigger glob.Glob
}

// matches reports whether the rule applies to an entity of the given kind,
// workflow and severity.
func (r compiledRule) matches(kind models.EntityKind, workflowID string, severity models.Severity) bool {
	if r.rule.Severity != "" && !severity.AtLeast(r.rule.Severity) {
		return false
	}
	return r.trigger.Match(string(kind) + ":" + workflowID)
}

func compileRule(rule *models.EscalationRule) (compiledRule, error) {
	pattern := rule.TriggerCondition
	if pattern == "" {
		pattern = "*"
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return compiledRule{}, fmt.Errorf("rule %s: invalid trigger %q: %w", rule.ID, pattern, err)
	}
	return compiledRule{rule: rule, trigger: g}, nil
}

// ruleSet is an org's compiled rules, most severe first, plus the rules
// whose trigger did not compile.
type ruleSet struct {
	rules   []compiledRule
	invalid []error
}

// governing returns the first rule that applies to the entity. An entity is
// escalated along one rule only.
func (s *ruleSet) governing(kind models.EntityKind, workflowID string, severity models.Severity) (compiledRule, bool) {
	for _, r := range s.rules {
		if r.matches(kind, workflowID, severity) {
			return r, true
		}
	}
	return compiledRule{}, false
}

// moreSevere orders rules with a severity floor before rules without one,
// higher floors first.
func moreSevere(a, b models.Severity) bool {
	switch {
	case a == b || a == "":
		return false
	case b == "":
		return true
	}
	return a.AtLeast(b) && !b.AtLeast(a)
}

// ruleCache keeps each org's compiled rules for a while so a tick does not
// hit the store once per breached entity.
type ruleCache struct {
	store repository.EscalationRepository
	cache *ttlcache.Cache[string, *ruleSet]
}

func newRuleCache(store repository.EscalationRepository, ttl time.Duration) *ruleCache {
	return &ruleCache{
		store: store,
		cache: ttlcache.New(
			ttlcache.WithTTL[string, *ruleSet](ttl),
			ttlcache.WithDisableTouchOnHit[string, *ruleSet](),
		),
	}
}

func (c *ruleCache) rules(ctx context.Context, orgID string) (*ruleSet, error) {
	if item := c.cache.Get(orgID); item != nil {
		return item.Value(), nil
	}

	rules, err := c.store.FindEscalationRulesByOrg(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("loading escalation rules of org %s: %w", orgID, err)
	}

	set := &ruleSet{rules: make([]compiledRule, 0, len(rules))}
	for _, r := range rules {
		cr, err := compileRule(r)
		if err != nil {
			set.invalid = append(set.invalid, err)
			continue
		}
		set.rules = append(set.rules, cr)
	}
	sort.SliceStable(set.rules, func(i, j int) bool {
		return moreSevere(set.rules[i].rule.Severity, set.rules[j].rule.Severity)
	})

	c.cache.Set(orgID, set, ttlcache.DefaultTTL)
	return set, nil
}

// invalidate drops the cached rules of an org.
func (c *ruleCache) invalidate(orgID string) {
	c.cache.Delete(orgID)
}
