package templates

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/JakeFAU/web-intel-platform/internal/intel"
)

var knownMatcherKinds = map[string]bool{
	intel.MatcherTechnology: true,
	intel.MatcherMarker:     true,
	intel.MatcherHeader:     true,
	intel.MatcherAPIRoute:   true,
	intel.MatcherDOMPattern: true,
}

// Decode parses a template document field by field so that every malformed
// field is reported, then validates the result.
func Decode(data []byte) (intel.Template, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return intel.Template{}, intel.Validation("template", map[string]string{"body": "must be a JSON object"})
	}

	var tmpl intel.Template
	fields := make(map[string]string)
	decodeField := func(name string, dst any) {
		value, ok := raw[name]
		if !ok || bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			return
		}
		if err := json.Unmarshal(value, dst); err != nil {
			fields[name] = fieldError(err)
		}
	}

	decodeField("template_id", &tmpl.ID)
	decodeField("platform_name", &tmpl.PlatformName)
	decodeField("platform_variant", &tmpl.PlatformVariant)
	decodeField("category_selectors", &tmpl.CategorySelectors)
	decodeField("product_list_selectors", &tmpl.ProductListSelectors)
	decodeField("api_patterns", &tmpl.APIPatterns)
	decodeField("render_hints", &tmpl.RenderHints)
	decodeField("match_patterns", &tmpl.MatchPatterns)
	decodeField("confidence", &tmpl.Confidence)
	tmpl.Active = true
	decodeField("active", &tmpl.Active)

	if len(fields) > 0 {
		return intel.Template{}, intel.Validation("template", fields)
	}
	if err := Validate(tmpl); err != nil {
		return intel.Template{}, err
	}
	return tmpl, nil
}

// Validate checks the semantic rules every stored template must satisfy.
func Validate(tmpl intel.Template) error {
	fields := make(map[string]string)
	if strings.TrimSpace(tmpl.PlatformName) == "" {
		fields["platform_name"] = "is required"
	}
	if tmpl.Confidence != nil && (*tmpl.Confidence < 0 || *tmpl.Confidence > 1) {
		fields["confidence"] = "must be between 0 and 1"
	}
	if tmpl.RenderHints.TimeoutSeconds < 0 {
		fields["render_hints"] = "timeout_seconds must not be negative"
	}
	for i, m := range tmpl.MatchPatterns {
		key := fmt.Sprintf("match_patterns[%d]", i)
		switch {
		case !knownMatcherKinds[m.Kind]:
			fields[key] = fmt.Sprintf("unknown kind %q (want one of %s)", m.Kind, strings.Join(matcherKinds(), ", "))
		case strings.TrimSpace(m.Key) == "":
			fields[key] = "key is required"
		}
	}
	for name, selector := range tmpl.CategorySelectors {
		if strings.TrimSpace(selector) == "" {
			fields["category_selectors."+name] = "selector is empty"
		}
	}
	for name, selector := range tmpl.ProductListSelectors {
		if strings.TrimSpace(selector) == "" {
			fields["product_list_selectors."+name] = "selector is empty"
		}
	}
	if len(fields) > 0 {
		return intel.Validation("template", fields)
	}
	return nil
}

func matcherKinds() []string {
	out := make([]string, 0, len(knownMatcherKinds))
	for k := range knownMatcherKinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func fieldError(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value)
	}
	return err.Error()
}
