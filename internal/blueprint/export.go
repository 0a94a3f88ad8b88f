package blueprint

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/web-intel-platform/internal/intel"
)

// Format is an export encoding.
type Format string

// Supported export formats.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts json (the default) or yaml.
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	default:
		return "", intel.Validation("export", map[string]string{"format": fmt.Sprintf("unsupported format %q (want json or yaml)", raw)})
	}
}

// ContentType returns the MIME type for format.
func ContentType(format Format) string {
	if format == FormatYAML {
		return "application/yaml"
	}
	return "application/json"
}

// Filename is the download name used in Content-Disposition.
func Filename(bp intel.Blueprint, format Format) string {
	return fmt.Sprintf("blueprint_%s_v%d.%s", bp.SiteID, bp.Version, format)
}

// Document is the portable export form of a blueprint.
type Document struct {
	SchemaVersion   int               `json:"schema_version" yaml:"schema_version"`
	BlueprintID     string            `json:"blueprint_id" yaml:"blueprint_id"`
	SiteID          string            `json:"site_id" yaml:"site_id"`
	Version         int               `json:"version" yaml:"version"`
	ConfidenceScore *float64          `json:"confidence_score" yaml:"confidence_score"`
	TemplateID      string            `json:"template_id,omitempty" yaml:"template_id,omitempty"`
	ExportedAt      time.Time         `json:"exported_at" yaml:"exported_at"`
	Categories      []intel.Category  `json:"categories_data" yaml:"categories_data"`
	Endpoints       []intel.Endpoint  `json:"endpoints_data" yaml:"endpoints_data"`
	Selectors       []intel.Selector  `json:"selectors_data" yaml:"selectors_data"`
	RenderHints     intel.RenderHints `json:"render_hints_data" yaml:"render_hints_data"`
}

// NewDocument captures bp for export.
func NewDocument(bp intel.Blueprint, exportedAt time.Time) Document {
	return Document{
		SchemaVersion:   intel.SchemaVersion,
		BlueprintID:     bp.ID,
		SiteID:          bp.SiteID,
		Version:         bp.Version,
		ConfidenceScore: bp.Confidence,
		TemplateID:      bp.TemplateID,
		ExportedAt:      exportedAt.UTC(),
		Categories:      nonNil(bp.Categories),
		Endpoints:       nonNil(bp.Endpoints),
		Selectors:       nonNil(bp.Selectors),
		RenderHints:     bp.RenderHints,
	}
}

// Export encodes bp in the requested format.
func Export(bp intel.Blueprint, format Format, exportedAt time.Time) ([]byte, error) {
	doc := NewDocument(bp, exportedAt)
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode json: %w", err)
		}
		return data, nil
	case FormatYAML:
		data, err := yaml.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("encode yaml: %w", err)
		}
		return data, nil
	default:
		_, err := ParseFormat(string(format))
		return nil, err
	}
}

// Import decodes an exported document back into a blueprint.
func Import(data []byte, format Format) (intel.Blueprint, error) {
	var doc Document
	var err error
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &doc)
	case FormatYAML:
		err = yaml.Unmarshal(data, &doc)
	default:
		_, err = ParseFormat(string(format))
		return intel.Blueprint{}, err
	}
	if err != nil {
		return intel.Blueprint{}, intel.Validation("import", map[string]string{"body": err.Error()})
	}
	fields := make(map[string]string)
	if doc.SchemaVersion != intel.SchemaVersion {
		fields["schema_version"] = fmt.Sprintf("unsupported version %d", doc.SchemaVersion)
	}
	if doc.SiteID == "" {
		fields["site_id"] = "is required"
	}
	if len(fields) > 0 {
		return intel.Blueprint{}, intel.Validation("import", fields)
	}
	return intel.Blueprint{
		ID:            doc.BlueprintID,
		SiteID:        doc.SiteID,
		Version:       doc.Version,
		Confidence:    doc.ConfidenceScore,
		Categories:    nonNil(doc.Categories),
		Endpoints:     nonNil(doc.Endpoints),
		Selectors:     nonNil(doc.Selectors),
		RenderHints:   doc.RenderHints,
		TemplateID:    doc.TemplateID,
		SchemaVersion: doc.SchemaVersion,
	}, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
