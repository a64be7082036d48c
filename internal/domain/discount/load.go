package discount

import (
	"io"
	"os"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type rulesFile struct {
	Rules []ruleEntry `yaml:"rules"`
}

type ruleEntry struct {
	Name     string `yaml:"name"`
	Priority int    `yaml:"priority"`
	When     string `yaml:"when"`
	Kind     string `yaml:"kind"`
	Value    string `yaml:"value"`
}

// LoadRules decodes expression rules from a YAML document of the form:
//
//	rules:
//	  - name: gold-basket
//	    priority: 4
//	    when: segment == "Gold" && quantity >= 5
//	    kind: percentage
//	    value: "2.5"
func LoadRules(r io.Reader) ([]Rule, error) {
	var f rulesFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "decode rules")
	}

	seen := make(map[string]struct{}, len(f.Rules))
	for _, name := range []string{RuleSegmentTier, RuleBulkQuantity, RuleHighValue} {
		seen[name] = struct{}{}
	}

	rules := make([]Rule, 0, len(f.Rules))
	for i, e := range f.Rules {
		if e.Name == "" {
			return nil, errors.Errorf("rule %d: rule name is required", i)
		}
		if _, dup := seen[e.Name]; dup {
			return nil, errors.Errorf("rule %d: duplicate name %q", i, e.Name)
		}
		seen[e.Name] = struct{}{}

		value, err := decimal.NewFromString(e.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "rule %q: parse value", e.Name)
		}
		rule, err := NewExpressionRule(ExpressionDef{
			Name:     e.Name,
			Priority: e.Priority,
			When:     e.When,
			Kind:     Kind(e.Kind),
			Value:    value,
		})
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// LoadRulesFile reads expression rules from path.
func LoadRulesFile(path string) ([]Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open rules file")
	}
	defer func() { _ = f.Close() }()

	return LoadRules(f)
}
