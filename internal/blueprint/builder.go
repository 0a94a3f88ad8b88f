// Package blueprint builds, versions, and exports site extraction blueprints.
package blueprint

import (
	"fmt"
	"maps"
	"sort"
	"strings"

	"github.com/JakeFAU/web-intel-platform/internal/intel"
	"github.com/JakeFAU/web-intel-platform/internal/templates"
)

// Creator labels written to Blueprint.CreatedBy.
const (
	CreatedByBuilder  = "builder"
	CreatedByRollback = "rollback"
)

// Weights blend the confidence inputs.
type Weights struct {
	Match     float64
	Selectors float64
	Analyzer  float64
}

// Config tunes the builder.
type Config struct {
	Weights        Weights
	ReadyThreshold float64
}

// DefaultConfig returns the stock builder settings.
func DefaultConfig() Config {
	return Config{
		Weights:        Weights{Match: 0.5, Selectors: 0.3, Analyzer: 0.2},
		ReadyThreshold: 0.7,
	}
}

// Builder turns a fingerprint and ranked templates into a blueprint draft.
type Builder struct {
	cfg Config
}

// NewBuilder creates a Builder.
func NewBuilder(cfg Config) *Builder {
	return &Builder{cfg: cfg}
}

// StatusFor maps a blueprint confidence onto the site status it earns.
func (b *Builder) StatusFor(confidence float64) intel.SiteStatus {
	if confidence >= b.cfg.ReadyThreshold {
		return intel.SiteStatusReady
	}
	return intel.SiteStatusReview
}

// ValidateFingerprint rejects fingerprints the builder cannot trust.
func ValidateFingerprint(fp intel.Fingerprint) error {
	fields := make(map[string]string)
	if fp.Technologies == nil {
		fields["technologies"] = "is required"
	}
	if fp.SchemaVersion != intel.SchemaVersion {
		fields["schema_version"] = fmt.Sprintf("unsupported version %d", fp.SchemaVersion)
	}
	for name, v := range map[string]float64{
		"complexity_score":     fp.ComplexityScore,
		"business_value_score": fp.BusinessValueScore,
		"confidence":           fp.Confidence,
	} {
		if v < 0 || v > 1 {
			fields[name] = "must be between 0 and 1"
		}
	}
	if len(fields) > 0 {
		return intel.InvalidFingerprint(fields)
	}
	return nil
}

// Build produces an unversioned draft. It has no side effects; the Service
// assigns the ID, and version and timestamps come with the commit.
func (b *Builder) Build(site intel.Site, fp intel.Fingerprint, candidates []templates.Candidate) (intel.Blueprint, error) {
	if err := ValidateFingerprint(fp); err != nil {
		return intel.Blueprint{}, err
	}
	draft := intel.Blueprint{
		SiteID:        site.ID,
		Categories:    []intel.Category{},
		Endpoints:     []intel.Endpoint{},
		Selectors:     []intel.Selector{},
		CreatedBy:     CreatedByBuilder,
		SchemaVersion: intel.SchemaVersion,
	}
	if len(candidates) == 0 {
		zero := 0.0
		draft.Confidence = &zero
		draft.Notes = "no matching template"
		return draft, nil
	}

	top := candidates[0]
	tmpl := top.Template
	selectors, confirmedFraction := mergeSelectors(tmpl, fp)
	draft.Selectors = selectors
	draft.Endpoints = buildEndpoints(site.Domain, tmpl, fp)
	draft.Categories = buildCategories(site.Domain, fp)
	draft.RenderHints = tmpl.RenderHints
	draft.RenderHints.Extra = maps.Clone(tmpl.RenderHints.Extra)
	draft.RenderHints.RequiresJS = tmpl.RenderHints.RequiresJS || fp.Signals.RequiresJS
	applyPagination(&draft.RenderHints, fp.Signals)
	draft.TemplateID = tmpl.ID

	confidence := b.confidence(top.MatchScore, confirmedFraction, fp.Confidence)
	draft.Confidence = &confidence
	draft.Notes = fmt.Sprintf("template %s matched with score %.2f", tmpl.ID, top.MatchScore)
	return draft, nil
}

// applyPagination fills pagination hints the template leaves open from what
// the page showed. Scrolling feeds need a browser to load further items.
func applyPagination(hints *intel.RenderHints, sig intel.Signals) {
	if hints.Pagination == intel.PaginationNone {
		hints.Pagination = sig.Pagination
	}
	if hints.NextPage == "" {
		hints.NextPage = sig.NextPageSelector
	}
	if hints.Pagination == intel.PaginationInfinite || hints.Pagination == intel.PaginationLoadMore {
		hints.ScrollToLoad = hints.Pagination == intel.PaginationInfinite
		hints.RequiresJS = true
	}
}

func (b *Builder) confidence(match, selectors, analyzer float64) float64 {
	w := b.cfg.Weights
	total := w.Match + w.Selectors + w.Analyzer
	if total <= 0 {
		return 0
	}
	score := (w.Match*match + w.Selectors*selectors + w.Analyzer*analyzer) / total
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	default:
		return score
	}
}

func mergeSelectors(tmpl intel.Template, fp intel.Fingerprint) ([]intel.Selector, float64) {
	out := []intel.Selector{}
	seen := make(map[string]bool)
	confirmed := 0
	for _, group := range []map[string]string{tmpl.CategorySelectors, tmpl.ProductListSelectors} {
		for _, field := range sortedKeys(group) {
			if seen[field] {
				continue
			}
			seen[field] = true
			if sel, ok := fp.Confirmed(field); ok {
				confirmed++
				out = append(out, intel.Selector{FieldName: field, Selector: sel, Method: intel.SelectorMethodFingerprint})
				continue
			}
			out = append(out, intel.Selector{FieldName: field, Selector: group[field], Method: intel.SelectorMethodTemplate})
		}
	}
	templateFields := len(seen)
	for _, cs := range fp.Signals.ConfirmedSelectors {
		if seen[cs.FieldName] {
			continue
		}
		seen[cs.FieldName] = true
		out = append(out, intel.Selector{FieldName: cs.FieldName, Selector: cs.Selector, Method: intel.SelectorMethodFingerprint})
	}
	if templateFields == 0 {
		return out, 0
	}
	return out, float64(confirmed) / float64(templateFields)
}

func buildEndpoints(domain string, tmpl intel.Template, fp intel.Fingerprint) []intel.Endpoint {
	out := []intel.Endpoint{}
	seen := make(map[string]bool)
	add := func(ep intel.Endpoint) {
		if seen[ep.URL] {
			return
		}
		seen[ep.URL] = true
		out = append(out, ep)
	}
	for _, key := range sortedKeys(tmpl.APIPatterns) {
		method := "GET"
		if key == "graphql" {
			method = "POST"
		}
		for i, pattern := range tmpl.APIPatterns[key] {
			name := key
			if i > 0 {
				name = fmt.Sprintf("%s_%d", key, i+1)
			}
			add(intel.Endpoint{Name: name, URL: absoluteURL(domain, pattern), Method: method})
		}
	}
	for _, route := range fp.Signals.APIRoutes {
		add(intel.Endpoint{Name: "discovered", URL: absoluteURL(domain, route), Method: "GET"})
	}
	return out
}

func buildCategories(domain string, fp intel.Fingerprint) []intel.Category {
	out := []intel.Category{}
	seen := make(map[string]bool)
	for _, c := range fp.Signals.CategoryLinks {
		if seen[c.URL] {
			continue
		}
		seen[c.URL] = true
		name := c.Name
		if name == "" {
			name = c.URL
		}
		out = append(out, intel.Category{Name: name, URL: c.URL, Description: c.Description})
	}
	if len(out) > 0 {
		return out
	}
	for _, field := range []string{"category_link", "nav_menu"} {
		if sel, ok := fp.Confirmed(field); ok {
			out = append(out, intel.Category{
				Name:        field,
				URL:         absoluteURL(domain, "/"),
				Description: "confirmed selector " + sel,
			})
		}
	}
	return out
}

func absoluteURL(domain, path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") || domain == "" {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "https://" + domain + path
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
