package worker

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/web-intel-platform/internal/intel"
)

// itemField is the selector whose match count is reported as items found.
const itemField = "product_title"

// Evaluation summarizes how a blueprint's selectors fared on a live page.
type Evaluation struct {
	ItemsFound  int
	Matched     []string
	Failed      []string
	FailureRate float64
}

// Evaluate applies selectors to body. Selectors that match nothing, including
// ones that do not parse, count as failures.
func Evaluate(body []byte, selectors []intel.Selector) (Evaluation, error) {
	if len(selectors) == 0 {
		return Evaluation{}, intel.Validationf("evaluate", "blueprint has no selectors")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Evaluation{}, fmt.Errorf("parse page: %w", err)
	}
	var (
		out      Evaluation
		maxItems int
	)
	for _, sel := range selectors {
		count := matchCount(doc, sel.Selector)
		if count == 0 {
			out.Failed = append(out.Failed, sel.FieldName)
			continue
		}
		out.Matched = append(out.Matched, sel.FieldName)
		if sel.FieldName == itemField {
			out.ItemsFound = count
		}
		if strings.HasPrefix(sel.FieldName, "product_") && count > maxItems {
			maxItems = count
		}
	}
	if out.ItemsFound == 0 {
		out.ItemsFound = maxItems
	}
	out.FailureRate = float64(len(out.Failed)) / float64(len(selectors))
	return out, nil
}

// Invalid selectors match nothing in goquery.
func matchCount(doc *goquery.Document, selector string) int {
	if strings.TrimSpace(selector) == "" {
		return 0
	}
	return doc.Find(selector).Length()
}
