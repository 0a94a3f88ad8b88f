package fingerprint

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/JakeFAU/web-intel-platform/internal/intel"
)

// PlatformCustom is reported when no known platform matches.
const PlatformCustom = "custom"

type indicator struct {
	label string
	re    *regexp.Regexp
}

func literal(s string) indicator {
	return indicator{label: s, re: regexp.MustCompile(`(?i)` + regexp.QuoteMeta(s))}
}

func pattern(label, expr string) indicator {
	return indicator{label: label, re: regexp.MustCompile(`(?i)` + expr)}
}

type variantRule struct {
	version    string
	indicators []indicator
}

type rule struct {
	name       string
	category   string
	indicators []indicator
	headers    []string
	variants   []variantRule
}

// Platform rules are evaluated in order; ties on matched indicators go to the
// earlier rule.
var platformRules = []rule{
	{
		name:     "shopify",
		category: intel.TechCategoryPlatform,
		indicators: []indicator{
			literal("cdn.shopify.com"),
			literal("Shopify.theme"),
			literal("shopify-section"),
		},
		headers: []string{"x-shopify-stage", "x-shopid", "x-shopify-trace"},
		variants: []variantRule{{
			version:    "2.x",
			indicators: []indicator{literal("shopify-section-group"), literal(`"online_store_2"`)},
		}},
	},
	{
		name:     "woocommerce",
		category: intel.TechCategoryPlatform,
		indicators: []indicator{
			literal("woocommerce"),
			literal("wp-content/plugins/woocommerce"),
		},
	},
	{
		name:     "magento",
		category: intel.TechCategoryPlatform,
		indicators: []indicator{
			literal("Mage.Cookies"),
			literal("/static/frontend/"),
			literal("mage/cookies"),
		},
		headers: []string{"x-magento-cache-debug", "x-magento-tags"},
		variants: []variantRule{{
			version:    "2.x",
			indicators: []indicator{literal("/static/version"), literal("requirejs-config")},
		}},
	},
	{
		name:     "bigcommerce",
		category: intel.TechCategoryPlatform,
		indicators: []indicator{
			literal("bigcommerce.com"),
			pattern("cdn.bigcommerce", `cdn\d+\.bigcommerce`),
		},
		headers: []string{"x-bc-apigw-request-id"},
	},
	{
		name:     "prestashop",
		category: intel.TechCategoryPlatform,
		indicators: []indicator{
			literal("prestashop"),
			pattern("/themes/*/assets", `/themes/[^/"']+/assets`),
		},
		headers: []string{"x-powered-by-prestashop"},
	},
}

var cmsRules = []rule{
	{name: "wordpress", category: intel.TechCategoryCMS, indicators: []indicator{literal("wp-content"), literal("wp-includes")}},
	{name: "drupal", category: intel.TechCategoryCMS, indicators: []indicator{literal("Drupal.settings"), literal("/sites/default/files")}, headers: []string{"x-drupal-cache"}},
	{name: "joomla", category: intel.TechCategoryCMS, indicators: []indicator{literal("/media/jui/"), pattern("joomla", `content="joomla`)}},
}

var frameworkRules = []rule{
	{name: "react", category: intel.TechCategoryFramework, indicators: []indicator{literal("data-reactroot"), pattern("react-dom", `react-dom(\.production)?(\.min)?\.js`)}},
	{name: "angular", category: intel.TechCategoryFramework, indicators: []indicator{literal("ng-version"), literal("ng-app")}},
	{name: "vue", category: intel.TechCategoryFramework, indicators: []indicator{pattern("data-v-", `data-v-[0-9a-f]{8}`), pattern("vue.js", `vue(\.runtime)?(\.min)?\.js`)}},
	{name: "next.js", category: intel.TechCategoryFramework, indicators: []indicator{literal("__NEXT_DATA__"), literal("/_next/static")}},
	{name: "nuxt", category: intel.TechCategoryFramework, indicators: []indicator{literal("__NUXT__"), literal("/_nuxt/")}},
}

var antiBotRules = []rule{
	{name: "cloudflare", category: intel.TechCategoryAntiBot, indicators: []indicator{literal("cdn-cgi/challenge-platform"), literal("__cf_bm")}, headers: []string{"cf-ray", "cf-mitigated"}},
	{name: "recaptcha", category: intel.TechCategoryAntiBot, indicators: []indicator{literal("google.com/recaptcha"), literal("grecaptcha")}},
	{name: "datadome", category: intel.TechCategoryAntiBot, indicators: []indicator{literal("datadome")}, headers: []string{"x-datadome", "x-datadome-cid"}},
	{name: "imperva", category: intel.TechCategoryAntiBot, indicators: []indicator{literal("incapsula"), literal("_incap_")}, headers: []string{"x-iinfo", "x-cdn"}},
	{name: "perimeterx", category: intel.TechCategoryAntiBot, indicators: []indicator{literal("perimeterx"), literal("_pxhd"), literal("px-captcha")}},
}

// informationalHeaders are recorded even when no rule names them.
var informationalHeaders = []string{"server", "x-powered-by", "x-generator"}

type ruleMatch struct {
	rule    rule
	markers []string
	hits    int
	version string
}

func (m ruleMatch) total() int {
	return len(m.rule.indicators) + len(m.rule.headers)
}

func evaluate(r rule, body string, headers http.Header) ruleMatch {
	match := ruleMatch{rule: r}
	for _, ind := range r.indicators {
		if ind.re.MatchString(body) {
			match.hits++
			match.markers = append(match.markers, ind.label)
		}
	}
	for _, name := range r.headers {
		if headers.Get(name) != "" {
			match.hits++
		}
	}
	if match.hits == 0 {
		return match
	}
	for _, variant := range r.variants {
		for _, ind := range variant.indicators {
			if ind.re.MatchString(body) {
				match.version = variant.version
				match.markers = append(match.markers, ind.label)
				break
			}
		}
		if match.version != "" {
			break
		}
	}
	return match
}

func evaluateAll(rules []rule, body string, headers http.Header) []ruleMatch {
	var out []ruleMatch
	for _, r := range rules {
		if m := evaluate(r, body, headers); m.hits > 0 {
			out = append(out, m)
		}
	}
	return out
}

func ruleHeaders(headers http.Header) map[string]string {
	out := make(map[string]string)
	record := func(name string) {
		if v := headers.Get(name); v != "" {
			out[strings.ToLower(name)] = v
		}
	}
	for _, group := range [][]rule{platformRules, cmsRules, antiBotRules} {
		for _, r := range group {
			for _, name := range r.headers {
				record(name)
			}
		}
	}
	for _, name := range informationalHeaders {
		record(name)
	}
	return out
}
