// Package revision checks that revised text is a bounded, fact-preserving
// edit of its original, and validates the review that requested it.
package revision

import (
	"math"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/vinayprograms/gatekeeper/internal/stablehash"
	"github.com/vinayprograms/gatekeeper/internal/stop"
)

// Limits bounds the text artifacts of a reflection run.
type Limits struct {
	MaxDraftChars  int
	MaxAnswerChars int
	// MinSimilarity is the lowest accepted similarity ratio between the
	// original and the revision, in [0, 1].
	MinSimilarity float64
}

// DefaultLimits returns the limits used when nothing is configured.
func DefaultLimits() Limits {
	return Limits{
		MaxDraftChars:  900,
		MaxAnswerChars: 900,
		MinSimilarity:  0.45,
	}
}

// Artifact is an accepted revision.
type Artifact struct {
	Answer       string  `json:"answer"`
	Similarity   float64 `json:"patch_similarity"`
	QuotedChecks int     `json:"fix_plan_quoted_checks"`
}

// Validator applies Limits to drafts, revisions and final answers.
type Validator struct {
	limits Limits
}

// NewValidator creates a validator. Zero limits fall back to defaults.
func NewValidator(l Limits) *Validator {
	def := DefaultLimits()
	if l.MaxDraftChars <= 0 {
		l.MaxDraftChars = def.MaxDraftChars
	}
	if l.MaxAnswerChars <= 0 {
		l.MaxAnswerChars = def.MaxAnswerChars
	}
	return &Validator{limits: l}
}

// ValidateDraft trims a planner draft and bounds its length.
func (v *Validator) ValidateDraft(raw any) (string, error) {
	s, ok := raw.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", stop.Contract("invalid_draft", "empty")
	}
	s = strings.TrimSpace(s)
	if charLen(s) > v.limits.MaxDraftChars {
		return "", stop.Contract("invalid_draft", "too_long")
	}
	return s, nil
}

// ValidateFinal trims the answer released to the caller and bounds it.
func (v *Validator) ValidateFinal(answer string) (string, error) {
	s := strings.TrimSpace(answer)
	if s == "" {
		return "", stop.Contract("invalid_answer", "empty")
	}
	if charLen(s) > v.limits.MaxAnswerChars {
		return "", stop.Contract("invalid_answer", "too_long")
	}
	return s, nil
}

// Validate accepts revised as an edit of original when every rule holds:
// it changes something, stays similar enough, introduces no new numbers,
// incident IDs, severity labels or regions beyond original and context,
// makes no restricted claim that was not already present, and applies every
// quoted-phrase instruction in fixPlan.
func (v *Validator) Validate(original string, revised any, context any, fixPlan []string) (Artifact, error) {
	text, ok := revised.(string)
	if !ok || strings.TrimSpace(text) == "" {
		return Artifact{}, stop.Contract("invalid_revised", "empty")
	}
	text = strings.TrimSpace(text)
	if charLen(text) > v.limits.MaxAnswerChars {
		return Artifact{}, stop.Contract("invalid_revised", "too_long")
	}

	normOriginal := stablehash.CollapseSpace(original)
	normRevised := stablehash.CollapseSpace(text)
	if normOriginal == normRevised {
		return Artifact{}, stop.Policy("invalid_revised", "no_changes")
	}

	similarity := Similarity(normOriginal, normRevised)
	if similarity < v.limits.MinSimilarity {
		return Artifact{}, stop.Policy("patch_violation", "too_large_edit")
	}

	allowedTokens := stablehash.CanonicalString(context) + " " + original
	for _, class := range tokenClasses {
		if fresh := class.newTokens(text, allowedTokens); len(fresh) > 0 {
			return Artifact{}, stop.Policy("patch_violation", class.code)
		}
	}

	allowedClaims := stablehash.CollapseSpace(claimText(context) + " " + original)
	for _, claim := range restrictedClaims {
		if claim.MatchString(text) && !claim.MatchString(allowedClaims) {
			return Artifact{}, stop.Policy("patch_violation", "restricted_claims")
		}
	}

	rules := fixPlanRules(fixPlan)
	lower := strings.ToLower(normRevised)
	for _, phrase := range rules.mustInclude {
		if !strings.Contains(lower, phrase) {
			return Artifact{}, stop.Policy("patch_violation", "fix_plan_not_applied")
		}
	}
	for _, phrase := range rules.mustRemove {
		if strings.Contains(lower, phrase) {
			return Artifact{}, stop.Policy("patch_violation", "fix_plan_not_applied")
		}
	}

	return Artifact{
		Answer:       text,
		Similarity:   math.Round(similarity*1000) / 1000,
		QuotedChecks: rules.count(),
	}, nil
}

// Similarity is the character-level matching ratio of a and b, 2*M/T where
// M is the number of matched characters and T the total of both lengths.
func Similarity(a, b string) float64 {
	m := difflib.NewMatcher(strings.Split(a, ""), strings.Split(b, ""))
	return m.Ratio()
}

func charLen(s string) int {
	return len([]rune(s))
}
