package blueprint

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/web-intel-platform/internal/intel"
	"github.com/JakeFAU/web-intel-platform/internal/templates"
)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func (c *fixedClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

type seqIDs struct {
	prefix string
	n      atomic.Int64
}

func (s *seqIDs) NewID() (string, error) {
	return fmt.Sprintf("%s-%03d", s.prefix, s.n.Add(1)), nil
}

func ptr[T any](v T) *T { return &v }

func shopTemplate() intel.Template {
	return intel.Template{
		ID:           "tmpl-shop",
		PlatformName: "shopify",
		Confidence:   ptr(0.95),
		Active:       true,
		CategorySelectors: map[string]string{
			"nav_menu":      "nav",
			"category_link": "a.cat",
		},
		ProductListSelectors: map[string]string{
			"product_title": ".t",
			"product_price": ".p",
		},
		APIPatterns: map[string][]string{
			"rest":    {"/products.json", "/collections.json"},
			"graphql": {"/api/graphql.json"},
		},
		RenderHints:   intel.RenderHints{WaitForSelector: ".product-grid", TimeoutSeconds: 10},
		MatchPatterns: []intel.Matcher{{Kind: intel.MatcherTechnology, Key: "shopify"}},
	}
}

func shopFingerprint() intel.Fingerprint {
	return intel.Fingerprint{
		SchemaVersion: intel.SchemaVersion,
		Technologies:  map[string]intel.Technology{"shopify": {Category: intel.TechCategoryPlatform}},
		Signals: intel.Signals{
			APIRoutes: []string{"/products.json", "/wp-json/"},
			ConfirmedSelectors: []intel.ConfirmedSelector{
				{FieldName: "nav_menu", Selector: "nav.main"},
				{FieldName: "product_price", Selector: ".price"},
				{FieldName: "breadcrumb", Selector: ".crumbs"},
			},
			CategoryLinks: []intel.Category{{Name: "Shirts", URL: "https://shop.example.com/collections/shirts"}},
			RequiresJS:    true,
		},
		Platform:           "shopify",
		ComplexityScore:    0.3,
		BusinessValueScore: 0.7,
		Confidence:         0.5,
	}
}

func shopCandidates() []templates.Candidate {
	return []templates.Candidate{{Template: shopTemplate(), MatchScore: 0.8}}
}
