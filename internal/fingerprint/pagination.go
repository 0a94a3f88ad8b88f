package fingerprint

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/web-intel-platform/internal/intel"
)

// Ordered from most to least specific; the first selector that matches is
// recorded as the next-page selector.
var nextPageSelectors = []string{
	`a[rel="next"]`,
	`.pagination a`,
	`nav[aria-label*="agination"] a`,
	`a[href*="page="]`,
	`a[href*="/page/"]`,
}

const infiniteScrollSelector = `[data-infinite-scroll], [data-infinite], .infinite-scroll, .infinite-scroll-container`

const loadMoreSelector = `[data-load-more], .load-more, .load-more-button, .js-load-more`

var loadMoreLabels = []string{"load more", "show more", "view more"}

type paginationResult struct {
	style    intel.Pagination
	nextPage string
}

// detectPagination classifies how a listing exposes further pages. Scroll and
// load-more widgets win over numbered links, which many themes keep only as a
// no-script fallback; the numbered selector is still reported when present.
func detectPagination(doc *goquery.Document) paginationResult {
	var res paginationResult
	for _, sel := range nextPageSelectors {
		if doc.Find(sel).Length() > 0 {
			res.style = intel.PaginationNumbered
			res.nextPage = sel
			break
		}
	}
	switch {
	case doc.Find(infiniteScrollSelector).Length() > 0:
		res.style = intel.PaginationInfinite
	case doc.Find(loadMoreSelector).Length() > 0 || hasLoadMoreButton(doc):
		res.style = intel.PaginationLoadMore
	}
	return res
}

func hasLoadMoreButton(doc *goquery.Document) bool {
	found := false
	doc.Find("button, a[role=button]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		label := strings.ToLower(strings.TrimSpace(s.Text()))
		for _, want := range loadMoreLabels {
			if strings.HasPrefix(label, want) {
				found = true
				break
			}
		}
		return !found
	})
	return found
}
