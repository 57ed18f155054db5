package domain

import "regexp"

// Rule pairs a case-insensitive pattern with the category it implies.
type Rule struct {
	Pattern  *regexp.Regexp
	Category string
}

// RuleSet is an ordered list of lexical rules; the first match wins.
// Matching is a best-effort heuristic over free text, not ground truth.
type RuleSet []Rule

// Match returns the category of the first rule matching text.
func (rs RuleSet) Match(text string) (string, bool) {
	for _, r := range rs {
		if r.Pattern.MatchString(text) {
			return r.Category, true
		}
	}
	return "", false
}

func rule(pattern, category string) Rule {
	return Rule{Pattern: regexp.MustCompile(`(?i)` + pattern), Category: category}
}

const categorySoftTissue = "soft_tissue"

var softTissueRules = RuleSet{
	rule(`gengiv`, categorySoftTissue),
	rule(`gingiv`, categorySoftTissue),
	rule(`z[eê]nite`, categorySoftTissue),
	rule(`zenith`, categorySoftTissue),
	rule(`tecido\s+mole`, categorySoftTissue),
	rule(`soft[\s-]+tissue`, categorySoftTissue),
	rule(`\bgums?\b`, categorySoftTissue),
	rule(`contorno\s+gengival`, categorySoftTissue),
}

// IsSoftTissueChange reports whether a free-text change description reads
// as a gingival procedure rather than a per-tooth change.
func IsSoftTissueChange(text string) bool {
	_, ok := softTissueRules.Match(text)
	return ok
}

// errorRules classify transport and backend messages. Order matters: the
// more specific credit and limit phrases come before generic network words.
var errorRules = RuleSet{
	rule(`insufficient[\s_]+credits|créditos\s+insuficientes|no credits`, string(KindInsufficientCredits)),
	rule(`rate[\s_-]*limit|too many requests|\b429\b`, string(KindRateLimited)),
	rule(`payload too large|too large|max(imum)? size|\b413\b|exceeds.*limit`, string(KindResourceLimit)),
	rule(`duplicate|unique constraint|already exists|23505`, string(KindIntegrityConflict)),
	rule(`foreign key|violates.*constraint|reference|23503`, string(KindIntegrityConflict)),
	rule(`no data|empty response|no (teeth|items) detected|nothing detected`, string(KindNoData)),
	rule(`network|timeout|timed out|connection|unreachable|failed to fetch|eof|abort`, string(KindConnection)),
	rule(`internal server error|bad gateway|service unavailable|\b50[0-9]\b`, string(KindServer)),
}
