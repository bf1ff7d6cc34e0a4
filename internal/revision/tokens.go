package revision

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/vinayprograms/gatekeeper/internal/stablehash"
)

// tokenClass is a family of fact-bearing tokens a revision may not invent.
type tokenClass struct {
	code string
	re   *regexp.Regexp
	// fold maps a match to its comparison form.
	fold func(string) string
}

var tokenClasses = []tokenClass{
	{code: "new_number", re: regexp.MustCompile(`\b\d+(?:\.\d+)?%?\b`), fold: strings.ToLower},
	{code: "new_incident_id", re: regexp.MustCompile(`(?i)\binc_[a-z0-9_]+\b`), fold: strings.ToLower},
	{code: "new_severity_label", re: regexp.MustCompile(`(?i)\bp[0-5]\b`), fold: strings.ToUpper},
	{code: "new_region", re: regexp.MustCompile(`(?i)\b(?:us|eu|uk|ua|apac|global|emea|latam)\b`), fold: strings.ToUpper},
}

var restrictedClaims = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bresolved\b`),
	regexp.MustCompile(`(?i)\bfully[-\s]+recovered\b`),
	regexp.MustCompile(`(?i)\bincident\s+closed\b`),
	regexp.MustCompile(`(?i)\ball payments (?:are|is)\s+stable\b`),
}

var quotedPhrase = regexp.MustCompile(`['"]([^'"]{3,120})['"]`)

func (c tokenClass) extract(text string) map[string]bool {
	set := make(map[string]bool)
	for _, m := range c.re.FindAllString(stablehash.CollapseSpace(text), -1) {
		set[c.fold(m)] = true
	}
	return set
}

// newTokens returns tokens of class c found in revised but not in allowed.
func (c tokenClass) newTokens(revised, allowed string) []string {
	have := c.extract(allowed)
	var out []string
	for tok := range c.extract(revised) {
		if !have[tok] {
			out = append(out, tok)
		}
	}
	sort.Strings(out)
	return out
}

// claimText flattens a context value into searchable text: keys and
// scalar values joined by spaces, with mapping keys in sorted order.
func claimText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool, float64, float32, int, int64:
		return fmt.Sprint(t)
	case []any:
		parts := make([]string, len(t))
		for i, item := range t {
			parts[i] = claimText(item)
		}
		return strings.Join(parts, " ")
	case []string:
		return strings.Join(t, " ")
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, 2*len(keys))
		for _, k := range keys {
			parts = append(parts, k, claimText(t[k]))
		}
		return strings.Join(parts, " ")
	}
	return fmt.Sprint(v)
}

// phraseRules are the quoted-phrase constraints derived from a fix plan.
type phraseRules struct {
	mustInclude []string
	mustRemove  []string
}

func (r phraseRules) count() int {
	return len(r.mustInclude) + len(r.mustRemove)
}

var (
	modifyWords    = []string{"modify", "change", "update", "rewrite"}
	exampleMarkers = []string{"such as", "for example", "e.g.", "e.g"}
)

// fixPlanRules reads quoted phrases out of fix-plan items. An item that
// replaces or modifies text requires its first quoted phrase to disappear;
// a strict "replace 'a' with 'b'" also requires 'b' to appear. Quoted
// phrases in any other item must appear.
func fixPlanRules(plan []string) phraseRules {
	var r phraseRules
	for _, item := range plan {
		norm := strings.ToLower(stablehash.CollapseSpace(item))
		var quoted []string
		for _, m := range quotedPhrase.FindAllStringSubmatch(item, -1) {
			if q := stablehash.NormalizeText(m[1]); q != "" {
				quoted = append(quoted, q)
			}
		}
		if len(quoted) == 0 {
			continue
		}

		isReplace := strings.Contains(norm, "replace")
		isModify := containsAny(norm, modifyWords)
		hasWith := strings.Contains(" "+norm+" ", " with ")
		hasExample := containsAny(norm, exampleMarkers)

		if isReplace || isModify {
			r.mustRemove = appendUnique(r.mustRemove, quoted[0])
			if isReplace && len(quoted) >= 2 && hasWith && !hasExample {
				r.mustInclude = appendUnique(r.mustInclude, quoted[1])
			}
			continue
		}
		for _, q := range quoted {
			r.mustInclude = appendUnique(r.mustInclude, q)
		}
	}
	return r
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
