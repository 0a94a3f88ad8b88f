// Package fingerprint turns a raw site probe into a structured fingerprint:
// detected technologies, structural signals, confirmed selectors and scores.
package fingerprint

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/web-intel-platform/internal/intel"
)

// DOM pattern names recorded in Signals.DOMPatterns.
const (
	PatternSPARoot       = "spa-root"
	PatternProductGrid   = "product-grid"
	PatternJSONLDProduct = "json-ld-product"
	PatternCartForm      = "cart-form"
)

// Selector probe groups.
const (
	GroupCategory = "category"
	GroupProduct  = "product"
)

const maxCategoryLinks = 50

var jsonLDProduct = regexp.MustCompile(`"@type"\s*:\s*"Product"`)

// Weights are the additive score contributions.
type Weights struct {
	RequiresJS     float64
	AntiBot        float64
	SPAFramework   float64
	LargeHTML      float64
	BaseValue      float64
	KnownPlatform  float64
	APIRoute       float64
	APIRouteCap    float64
	ProductSignals float64
}

// SelectorProbe lists candidate selectors for one field, tried in order.
type SelectorProbe struct {
	Field     string
	Group     string
	Selectors []string
}

// Config tunes the analyzer.
type Config struct {
	Weights          Weights
	LargeHTMLBytes   int
	CustomConfidence float64
	SelectorProbes   []SelectorProbe
	// DensityBodyLimit bounds the body size for the script density check.
	DensityBodyLimit int
}

// DefaultWeights returns the stock score weights.
func DefaultWeights() Weights {
	return Weights{
		RequiresJS:     0.3,
		AntiBot:        0.2,
		SPAFramework:   0.2,
		LargeHTML:      0.1,
		BaseValue:      0.2,
		KnownPlatform:  0.3,
		APIRoute:       0.1,
		APIRouteCap:    0.3,
		ProductSignals: 0.2,
	}
}

// DefaultSelectorProbes is the built-in selector confirmation table.
func DefaultSelectorProbes() []SelectorProbe {
	return []SelectorProbe{
		{Field: "nav_menu", Group: GroupCategory, Selectors: []string{"nav[role='navigation']", ".site-nav", ".navigation", ".navPages-list", "#_desktop_top_menu", "header nav"}},
		{Field: "category_link", Group: GroupCategory, Selectors: []string{"a[href*='/collections/']", "a[href*='/product-category/']", "a[href*='/category/']", "a[href*='/catalog/']"}},
		{Field: "breadcrumb", Group: GroupCategory, Selectors: []string{".breadcrumb", ".breadcrumbs", ".woocommerce-breadcrumb", "nav[aria-label='Breadcrumb']"}},
		{Field: "container", Group: GroupProduct, Selectors: []string{"#product-grid", ".product-grid", ".productGrid", ".products-grid", "ul.products", ".product-items"}},
		{Field: "product_item", Group: GroupProduct, Selectors: []string{".product-card", ".product-item", "li.product", ".product-miniature"}},
		{Field: "product_link", Group: GroupProduct, Selectors: []string{"a[href*='/products/']", "a[href*='/product/']", "a.product-item-link", ".woocommerce-loop-product__link"}},
		{Field: "product_title", Group: GroupProduct, Selectors: []string{".product-title", ".card__heading", ".product-item-name", ".woocommerce-loop-product__title", ".card-title"}},
		{Field: "product_price", Group: GroupProduct, Selectors: []string{".price", "[data-price]", ".price-box", ".woocommerce-Price-amount"}},
		{Field: "product_image", Group: GroupProduct, Selectors: []string{".product-image img", ".card__media img", ".product-image-photo", ".wp-post-image"}},
	}
}

// DefaultConfig returns the stock analyzer configuration.
func DefaultConfig() Config {
	return Config{
		Weights:          DefaultWeights(),
		LargeHTMLBytes:   100 * 1024,
		CustomConfidence: 0.2,
		SelectorProbes:   DefaultSelectorProbes(),
		DensityBodyLimit: 2048,
	}
}

// Analyzer is stateless after construction and safe for concurrent use.
type Analyzer struct {
	cfg    Config
	hasher intel.Hasher
}

// NewAnalyzer builds an analyzer. A nil hasher leaves content_hash empty.
func NewAnalyzer(cfg Config, hasher intel.Hasher) *Analyzer {
	if len(cfg.SelectorProbes) == 0 {
		cfg.SelectorProbes = DefaultSelectorProbes()
	}
	if cfg.LargeHTMLBytes <= 0 {
		cfg.LargeHTMLBytes = 100 * 1024
	}
	if cfg.DensityBodyLimit <= 0 {
		cfg.DensityBodyLimit = 2048
	}
	return &Analyzer{cfg: cfg, hasher: hasher}
}

// Analyze inspects a probe. The result depends only on the probe.
func (a *Analyzer) Analyze(probe intel.Probe) (intel.Fingerprint, error) {
	if probe.StatusCode == 0 || probe.StatusCode >= 500 {
		return intel.Fingerprint{}, intel.Dependency("analyze", fmt.Errorf("probe of %s returned status %d", probe.URL, probe.StatusCode))
	}
	if len(probe.Body) == 0 && (probe.StatusCode < 200 || probe.StatusCode > 299) {
		return intel.Fingerprint{}, intel.Validationf("analyze", "invalid probe: empty body with status %d", probe.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(probe.Body))
	if err != nil {
		return intel.Fingerprint{}, intel.Validationf("analyze", "invalid probe: parse html: %v", err)
	}
	body := string(probe.Body)

	fp := intel.Fingerprint{
		SchemaVersion: intel.SchemaVersion,
		Technologies:  make(map[string]intel.Technology),
		ProbedURL:     probe.URL,
		AnalyzedAt:    probe.FetchedAt,
	}
	fp.Signals.Headers = ruleHeaders(probe.Headers)
	fp.Signals.HTMLBytes = len(probe.Body)

	platform := a.detectPlatform(body, probe, &fp)
	for _, m := range evaluateAll(cmsRules, body, probe.Headers) {
		fp.Technologies[m.rule.name] = intel.Technology{Category: m.rule.category}
		fp.Signals.Markers = append(fp.Signals.Markers, m.markers...)
	}
	frameworks := evaluateAll(frameworkRules, body, probe.Headers)
	for _, m := range frameworks {
		fp.Technologies[m.rule.name] = intel.Technology{Category: m.rule.category}
	}
	for _, m := range evaluateAll(antiBotRules, body, probe.Headers) {
		fp.Technologies[m.rule.name] = intel.Technology{Category: m.rule.category}
		fp.Signals.AntiBot = append(fp.Signals.AntiBot, m.rule.name)
	}
	fp.Signals.Markers = dedupe(fp.Signals.Markers)

	spaRoot := doc.Find("#root, #app, #__next, [data-reactroot]").Length() > 0
	fp.Signals.DOMPatterns = domPatterns(doc, spaRoot)
	fp.Signals.ScriptCount = doc.Find("script").Length()
	fp.Signals.RequiresJS = requiresJS(body, renderSignals{
		textLen:      len(strings.TrimSpace(doc.Find("body").Text())),
		scripts:      fp.Signals.ScriptCount,
		spaRoot:      spaRoot,
		densityLimit: a.cfg.DensityBodyLimit,
	})

	productConfirmed := false
	for _, probeRow := range a.cfg.SelectorProbes {
		for _, sel := range probeRow.Selectors {
			if doc.Find(sel).Length() == 0 {
				continue
			}
			fp.Signals.ConfirmedSelectors = append(fp.Signals.ConfirmedSelectors, intel.ConfirmedSelector{
				FieldName: probeRow.Field,
				Selector:  sel,
			})
			if probeRow.Group == GroupProduct {
				productConfirmed = true
			}
			break
		}
	}
	pages := detectPagination(doc)
	fp.Signals.Pagination = pages.style
	fp.Signals.NextPageSelector = pages.nextPage
	if sel, ok := fp.Confirmed("category_link"); ok {
		fp.Signals.CategoryLinks = categoryLinks(doc, sel, probe.URL)
	}

	fp.Signals.APIRoutes = successfulRoutes(probe.Routes)

	fp.Platform = platform.name
	fp.Confidence = platform.confidence
	fp.ComplexityScore = a.complexity(fp, len(frameworks) > 0)
	fp.BusinessValueScore = a.businessValue(fp, productConfirmed)

	if a.hasher != nil {
		sum, err := a.hasher.Hash(probe.Body)
		if err != nil {
			return intel.Fingerprint{}, fmt.Errorf("hash probe body: %w", err)
		}
		fp.ContentHash = sum
	}
	return fp, nil
}

type platformResult struct {
	name       string
	confidence float64
}

func (a *Analyzer) detectPlatform(body string, probe intel.Probe, fp *intel.Fingerprint) platformResult {
	var best *ruleMatch
	for _, m := range evaluateAll(platformRules, body, probe.Headers) {
		fp.Signals.Markers = append(fp.Signals.Markers, m.markers...)
		if best == nil || m.hits > best.hits {
			match := m
			best = &match
		}
	}
	if best == nil {
		return platformResult{name: PlatformCustom, confidence: a.cfg.CustomConfidence}
	}
	fp.Technologies[best.rule.name] = intel.Technology{Category: best.rule.category, Version: best.version}
	confidence := float64(best.hits) / float64(best.total())
	if confidence < 0.5 {
		confidence = 0.5
	}
	return platformResult{name: best.rule.name, confidence: confidence}
}

func (a *Analyzer) complexity(fp intel.Fingerprint, spaFramework bool) float64 {
	w := a.cfg.Weights
	score := 0.0
	if fp.Signals.RequiresJS {
		score += w.RequiresJS
	}
	score += w.AntiBot * float64(len(fp.Signals.AntiBot))
	if spaFramework {
		score += w.SPAFramework
	}
	if fp.Signals.HTMLBytes > a.cfg.LargeHTMLBytes {
		score += w.LargeHTML
	}
	return clamp01(score)
}

func (a *Analyzer) businessValue(fp intel.Fingerprint, productConfirmed bool) float64 {
	w := a.cfg.Weights
	score := w.BaseValue
	if fp.Platform != PlatformCustom {
		score += w.KnownPlatform
	}
	routes := w.APIRoute * float64(len(fp.Signals.APIRoutes))
	if w.APIRouteCap > 0 && routes > w.APIRouteCap {
		routes = w.APIRouteCap
	}
	score += routes
	if productConfirmed || slices.Contains(fp.Signals.DOMPatterns, PatternJSONLDProduct) {
		score += w.ProductSignals
	}
	return clamp01(score)
}

func domPatterns(doc *goquery.Document, spaRoot bool) []string {
	var out []string
	if spaRoot {
		out = append(out, PatternSPARoot)
	}
	if doc.Find(".product-grid, #product-grid, .productGrid, .products-grid, ul.products, .product-items, [data-product-id]").Length() > 0 {
		out = append(out, PatternProductGrid)
	}
	jsonLD := false
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		jsonLD = jsonLDProduct.MatchString(s.Text())
		return !jsonLD
	})
	if jsonLD {
		out = append(out, PatternJSONLDProduct)
	}
	if doc.Find("form[action*='/cart']").Length() > 0 {
		out = append(out, PatternCartForm)
	}
	return out
}

func categoryLinks(doc *goquery.Document, selector, pageURL string) []intel.Category {
	base, _ := url.Parse(pageURL)
	seen := make(map[string]bool)
	var out []intel.Category
	doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, ok := s.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return true
		}
		link := href
		if base != nil {
			if ref, err := url.Parse(href); err == nil {
				link = base.ResolveReference(ref).String()
			}
		}
		if seen[link] {
			return true
		}
		seen[link] = true
		out = append(out, intel.Category{
			Name: strings.Join(strings.Fields(s.Text()), " "),
			URL:  link,
		})
		return len(out) < maxCategoryLinks
	})
	return out
}

func successfulRoutes(routes map[string]int) []string {
	out := make([]string, 0, len(routes))
	for path, status := range routes {
		if status >= 200 && status < 300 {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := values[:0]
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
