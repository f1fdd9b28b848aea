package siterules

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"golang.org/x/net/publicsuffix"
	"gopkg.in/yaml.v3"
)

// Table is the process-wide site rule lookup, keyed by registrable domain.
// Read-mostly after Load; safe for concurrent readers.
type Table struct {
	rules map[string]*SiteRule
}

type rulesFile struct {
	SiteRules []*SiteRule `yaml:"site_rules"`
}

// Load builds a table from the built-in defaults overlaid with the rules in
// the YAML file at path. Pass an empty path to use the defaults alone. File
// rules replace built-in rules for the same domain.
func Load(path string) (*Table, error) {
	t := &Table{rules: make(map[string]*SiteRule)}
	for _, r := range defaultRules() {
		if err := t.add(r); err != nil {
			return nil, fmt.Errorf("built-in rule: %w", err)
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading site rules: %w", err)
		}
		var f rulesFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parsing site rules: %w", err)
		}
		for _, r := range f.SiteRules {
			if err := t.add(r); err != nil {
				return nil, fmt.Errorf("rule in %s: %w", path, err)
			}
		}
	}

	return t, nil
}

func (t *Table) add(r *SiteRule) error {
	if r.Domain == "" {
		return fmt.Errorf("rule has no domain")
	}
	domain := strings.TrimPrefix(strings.ToLower(r.Domain), "www.")
	sortVariantRules(r.VariantRules)
	t.rules[domain] = r
	return nil
}

// sortVariantRules orders variant rules most-specific first so that a
// machine name matching both "ST50R" and "50R" lands on the former. Stable
// sort preserves file order among equally specific rules.
func sortVariantRules(rules []VariantRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return keywordLen(rules[i]) > keywordLen(rules[j])
	})
}

func keywordLen(r VariantRule) int {
	n := 0
	for _, k := range r.Keywords {
		n += len(k)
	}
	if r.URLPattern != "" {
		n += len(r.URLPattern)
	}
	return n
}

// Lookup returns the rule for a registrable domain, or nil.
func (t *Table) Lookup(domain string) *SiteRule {
	return t.rules[strings.TrimPrefix(strings.ToLower(domain), "www.")]
}

// MachineRule returns the first variant rule whose keywords all appear in
// the machine name (case-insensitive) and whose URL pattern, if any, matches
// the product URL. Returns nil when no rule applies.
func (t *Table) MachineRule(domain, machineName, productURL string) *VariantRule {
	rule := t.Lookup(domain)
	if rule == nil {
		return nil
	}
	name := strings.ToLower(machineName)
	for i := range rule.VariantRules {
		vr := &rule.VariantRules[i]
		if !keywordsMatch(vr.Keywords, name) {
			continue
		}
		if vr.URLPattern != "" && !strings.Contains(productURL, vr.URLPattern) {
			continue
		}
		return vr
	}
	return nil
}

func keywordsMatch(keywords []string, name string) bool {
	if len(keywords) == 0 {
		return false
	}
	for _, k := range keywords {
		if !strings.Contains(name, strings.ToLower(k)) {
			return false
		}
	}
	return true
}

// Len reports how many domains the table covers.
func (t *Table) Len() int {
	return len(t.rules)
}

// Domain extracts the registrable domain from a product URL, without the
// "www." prefix. "https://www.commarker.com/products/b6" yields
// "commarker.com".
func Domain(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing url: %w", err)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		// Bare hosts (localhost, test servers) fall back to the hostname.
		return strings.TrimPrefix(host, "www."), nil
	}
	return domain, nil
}
