package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/web-intel-platform/internal/intel"
	"github.com/JakeFAU/web-intel-platform/internal/store"
)

const templateColumns = `template_id, platform_name, platform_variant, category_selectors,
	product_list_selectors, api_patterns, render_hints, match_patterns, confidence, active,
	created_at, updated_at`

func scanTemplate(row scanner) (intel.Template, error) {
	var (
		tmpl                                 intel.Template
		categories, products, apis, hints, m []byte
	)
	if err := row.Scan(
		&tmpl.ID,
		&tmpl.PlatformName,
		&tmpl.PlatformVariant,
		&categories,
		&products,
		&apis,
		&hints,
		&m,
		&tmpl.Confidence,
		&tmpl.Active,
		&tmpl.CreatedAt,
		&tmpl.UpdatedAt,
	); err != nil {
		return intel.Template{}, err
	}
	for _, col := range []struct {
		data []byte
		dst  any
	}{
		{categories, &tmpl.CategorySelectors},
		{products, &tmpl.ProductListSelectors},
		{apis, &tmpl.APIPatterns},
		{hints, &tmpl.RenderHints},
		{m, &tmpl.MatchPatterns},
	} {
		if err := unmarshalJSON(col.data, col.dst); err != nil {
			return intel.Template{}, err
		}
	}
	return tmpl, nil
}

// templateArgs returns the JSON-encoded template columns in column order.
func templateArgs(tmpl intel.Template) ([]any, error) {
	cols := []any{
		nonNilMap(tmpl.CategorySelectors),
		nonNilMap(tmpl.ProductListSelectors),
		nonNilMap(tmpl.APIPatterns),
		tmpl.RenderHints,
		nonNil(tmpl.MatchPatterns),
	}
	out := make([]any, 0, len(cols))
	for _, col := range cols {
		data, err := marshalJSON(col)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

func nonNilMap[K comparable, V any](in map[K]V) map[K]V {
	if in == nil {
		return map[K]V{}
	}
	return in
}

// CreateTemplate stores a new template.
func (s *Store) CreateTemplate(ctx context.Context, tmpl intel.Template) error {
	encoded, err := templateArgs(tmpl)
	if err != nil {
		return err
	}
	args := []any{tmpl.ID, tmpl.PlatformName, tmpl.PlatformVariant}
	args = append(args, encoded...)
	args = append(args, tmpl.Confidence, tmpl.Active, tmpl.CreatedAt, tmpl.UpdatedAt)
	_, err = s.db.Exec(ctx, `INSERT INTO templates (`+templateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`, args...)
	if err != nil {
		mapped := mapError("insert template", err)
		if intel.KindOf(mapped) == intel.KindConflict {
			return intel.Conflict("template", "template %q already exists", tmpl.ID)
		}
		return mapped
	}
	return nil
}

// GetTemplate fetches a template by ID.
func (s *Store) GetTemplate(ctx context.Context, templateID string) (intel.Template, error) {
	tmpl, err := scanTemplate(s.db.QueryRow(ctx,
		`SELECT `+templateColumns+` FROM templates WHERE template_id = $1`, templateID))
	if err != nil {
		return intel.Template{}, notFound("template", templateID, err)
	}
	return tmpl, nil
}

// ListTemplates returns matching templates ordered by platform then ID.
func (s *Store) ListTemplates(ctx context.Context, filter store.TemplateFilter) ([]intel.Template, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.PlatformName != nil {
		args = append(args, *filter.PlatformName)
		clauses = append(clauses, fmt.Sprintf("platform_name = $%d", len(args)))
	}
	if filter.Active != nil {
		args = append(args, *filter.Active)
		clauses = append(clauses, fmt.Sprintf("active = $%d", len(args)))
	}
	query := `SELECT ` + templateColumns + ` FROM templates`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY platform_name, template_id`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError("list templates", err)
	}
	defer rows.Close()
	out := make([]intel.Template, 0)
	for rows.Next() {
		tmpl, err := scanTemplate(rows)
		if err != nil {
			return nil, mapError("scan template", err)
		}
		out = append(out, tmpl)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list templates", err)
	}
	return out, nil
}

// UpdateTemplate replaces an existing template, keeping its creation time.
func (s *Store) UpdateTemplate(ctx context.Context, tmpl intel.Template) error {
	encoded, err := templateArgs(tmpl)
	if err != nil {
		return err
	}
	args := []any{tmpl.ID, tmpl.PlatformName, tmpl.PlatformVariant}
	args = append(args, encoded...)
	args = append(args, tmpl.Confidence, tmpl.Active, tmpl.UpdatedAt)
	tag, err := s.db.Exec(ctx, `UPDATE templates SET
		platform_name = $2,
		platform_variant = $3,
		category_selectors = $4,
		product_list_selectors = $5,
		api_patterns = $6,
		render_hints = $7,
		match_patterns = $8,
		confidence = $9,
		active = $10,
		updated_at = $11
		WHERE template_id = $1`, args...)
	if err != nil {
		return mapError("update template", err)
	}
	if tag.RowsAffected() == 0 {
		return intel.NotFound("template", tmpl.ID)
	}
	return nil
}

// DeleteTemplate removes a template.
func (s *Store) DeleteTemplate(ctx context.Context, templateID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM templates WHERE template_id = $1`, templateID)
	if err != nil {
		return mapError("delete template", err)
	}
	if tag.RowsAffected() == 0 {
		return intel.NotFound("template", templateID)
	}
	return nil
}
