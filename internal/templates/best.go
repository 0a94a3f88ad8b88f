package templates

import (
	"strings"

	"github.com/JakeFAU/web-intel-platform/internal/intel"
)

// Best picks the active template an operator should start from for a
// platform. A requested variant is preferred, with the platform's generic
// templates as the fallback. Ties on confidence go to the lower ID.
func Best(list []intel.Template, platform, variant string) (intel.Template, bool) {
	var exact, generic *intel.Template
	for i := range list {
		tmpl := &list[i]
		if !tmpl.Active || !strings.EqualFold(tmpl.PlatformName, platform) {
			continue
		}
		switch {
		case tmpl.PlatformVariant == nil:
			generic = better(generic, tmpl)
		case variant != "" && strings.EqualFold(*tmpl.PlatformVariant, variant):
			exact = better(exact, tmpl)
		case variant == "":
			generic = better(generic, tmpl)
		}
	}
	if exact != nil {
		return *exact, true
	}
	if generic != nil {
		return *generic, true
	}
	return intel.Template{}, false
}

func better(cur, next *intel.Template) *intel.Template {
	if cur == nil {
		return next
	}
	cc, nc := cur.ConfidenceValue(), next.ConfidenceValue()
	if nc != cc {
		if nc > cc {
			return next
		}
		return cur
	}
	if next.ID < cur.ID {
		return next
	}
	return cur
}
