package fingerprint

import "strings"

// Render heuristic thresholds.
const (
	minBodyText        = 200
	maxStaticScripts   = 20
	scriptCoverageBase = 25
)

// scriptDensityHigh reports whether <script> elements, tags included, span at
// least scriptCoverageBase percent of body. An unterminated opening tag claims
// the rest of the document.
func scriptDensityHigh(body string) bool {
	if body == "" {
		return false
	}
	doc := strings.ToLower(body)
	covered := 0
	for rest := doc; ; {
		open := strings.Index(rest, "<script")
		if open < 0 {
			break
		}
		rest = rest[open:]
		gt := strings.IndexByte(rest, '>')
		if gt < 0 {
			covered += len(rest)
			break
		}
		span := len(rest)
		if end := strings.Index(rest[gt+1:], "</script>"); end >= 0 {
			span = gt + 1 + end + len("</script>")
		}
		covered += span
		rest = rest[span:]
	}
	return covered > 0 && covered*100/len(doc) >= scriptCoverageBase
}

type renderSignals struct {
	textLen      int
	scripts      int
	spaRoot      bool
	densityLimit int
}

// requiresJS decides whether the page needs a JavaScript-capable renderer.
func requiresJS(body string, s renderSignals) bool {
	switch {
	case s.textLen < minBodyText:
		return true
	case s.spaRoot:
		return true
	case s.scripts > maxStaticScripts:
		return true
	case len(body) < s.densityLimit && scriptDensityHigh(body):
		return true
	default:
		return false
	}
}
