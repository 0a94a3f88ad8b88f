package templates

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/web-intel-platform/internal/intel"
	"github.com/JakeFAU/web-intel-platform/internal/store"
)

//go:embed seeds/templates.yaml
var seedCatalog []byte

// Defaults parses the embedded seed catalog.
func Defaults() ([]intel.Template, error) {
	return ParseYAML(seedCatalog)
}

// ParseYAML decodes and validates a YAML list of templates.
func ParseYAML(data []byte) ([]intel.Template, error) {
	var list []intel.Template
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse template catalog: %w", err)
	}
	for _, tmpl := range list {
		if err := Validate(tmpl); err != nil {
			return nil, fmt.Errorf("template %s: %w", tmpl.ID, err)
		}
	}
	return list, nil
}

// Seed inserts each template that is not already present and reports how many
// were created.
func Seed(ctx context.Context, repo store.TemplateRepository, list []intel.Template, now time.Time) (int, error) {
	created := 0
	for _, tmpl := range list {
		tmpl.CreatedAt = now
		tmpl.UpdatedAt = now
		err := repo.CreateTemplate(ctx, tmpl)
		switch {
		case err == nil:
			created++
		case errors.Is(err, intel.ErrConflict):
			continue
		default:
			return created, fmt.Errorf("seed template %s: %w", tmpl.ID, err)
		}
	}
	return created, nil
}
