package templates

import (
	"sort"
	"strings"

	"github.com/JakeFAU/web-intel-platform/internal/intel"
)

const (
	technologyWeight = 1.0
	signalWeight     = 0.5
)

// Candidate is a template paired with how well it matched a fingerprint.
type Candidate struct {
	Template   intel.Template `json:"template"`
	MatchScore float64        `json:"match_score"`
}

// Rank scores every active template against fp and returns the non-zero
// matches in deterministic order. It never mutates its inputs.
func Rank(fp intel.Fingerprint, templates []intel.Template) []Candidate {
	candidates := make([]Candidate, 0, len(templates))
	for _, tmpl := range templates {
		if !tmpl.Active {
			continue
		}
		score := Score(fp, tmpl)
		if score <= 0 {
			continue
		}
		candidates = append(candidates, Candidate{Template: tmpl, MatchScore: score})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidateLess(candidates[i], candidates[j])
	})
	return candidates
}

// Score computes the weighted mean of the template's matcher scores.
func Score(fp intel.Fingerprint, tmpl intel.Template) float64 {
	var total, weights float64
	for _, m := range tmpl.MatchPatterns {
		w := matcherWeight(m.Kind)
		weights += w
		total += w * matcherScore(fp, m)
	}
	if weights == 0 {
		return 0
	}
	return total / weights
}

func candidateLess(a, b Candidate) bool {
	if a.MatchScore != b.MatchScore {
		return a.MatchScore > b.MatchScore
	}
	ac, bc := a.Template.ConfidenceValue(), b.Template.ConfidenceValue()
	if ac != bc {
		return ac > bc
	}
	av, bv := a.Template.PlatformVariant != nil, b.Template.PlatformVariant != nil
	if av != bv {
		return av
	}
	return a.Template.ID < b.Template.ID
}

func matcherWeight(kind string) float64 {
	if kind == intel.MatcherTechnology {
		return technologyWeight
	}
	return signalWeight
}

func matcherScore(fp intel.Fingerprint, m intel.Matcher) float64 {
	switch m.Kind {
	case intel.MatcherTechnology:
		tech, ok := fp.Technologies[strings.ToLower(m.Key)]
		if !ok {
			return 0
		}
		if m.Value == "" || strings.EqualFold(tech.Version, m.Value) {
			return 1
		}
		return 0.5
	case intel.MatcherMarker:
		return boolScore(containsFold(fp.Signals.Markers, m.Key))
	case intel.MatcherHeader:
		value, ok := fp.Signals.Headers[strings.ToLower(m.Key)]
		if !ok {
			return 0
		}
		return boolScore(m.Value == "" || strings.Contains(strings.ToLower(value), strings.ToLower(m.Value)))
	case intel.MatcherAPIRoute:
		return boolScore(containsFold(fp.Signals.APIRoutes, m.Key))
	case intel.MatcherDOMPattern:
		return boolScore(containsFold(fp.Signals.DOMPatterns, m.Key))
	default:
		return 0
	}
}

func containsFold(values []string, want string) bool {
	for _, v := range values {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}

func boolScore(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}
