package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/web-intel-platform/internal/intel"
)

const blueprintColumns = `blueprint_id, site_id, version, confidence_score, categories_data,
	endpoints_data, selectors_data, render_hints_data, template_id, created_by, notes,
	schema_version, created_at`

func scanBlueprint(row scanner) (intel.Blueprint, error) {
	var (
		bp                                     intel.Blueprint
		categories, endpoints, selectors, hint []byte
	)
	if err := row.Scan(
		&bp.ID,
		&bp.SiteID,
		&bp.Version,
		&bp.Confidence,
		&categories,
		&endpoints,
		&selectors,
		&hint,
		&bp.TemplateID,
		&bp.CreatedBy,
		&bp.Notes,
		&bp.SchemaVersion,
		&bp.CreatedAt,
	); err != nil {
		return intel.Blueprint{}, err
	}
	for _, col := range []struct {
		data []byte
		dst  any
	}{
		{categories, &bp.Categories},
		{endpoints, &bp.Endpoints},
		{selectors, &bp.Selectors},
		{hint, &bp.RenderHints},
	} {
		if err := unmarshalJSON(col.data, col.dst); err != nil {
			return intel.Blueprint{}, err
		}
	}
	return bp, nil
}

// AppendBlueprint locks the site row, assigns the next version, inserts the
// blueprint and updates the site in one transaction.
func (s *Store) AppendBlueprint(ctx context.Context, draft intel.Blueprint, patch intel.SitePatch) (intel.Blueprint, error) {
	categories, err := marshalJSON(nonNil(draft.Categories))
	if err != nil {
		return intel.Blueprint{}, err
	}
	endpoints, err := marshalJSON(nonNil(draft.Endpoints))
	if err != nil {
		return intel.Blueprint{}, err
	}
	selectors, err := marshalJSON(nonNil(draft.Selectors))
	if err != nil {
		return intel.Blueprint{}, err
	}
	hints, err := marshalJSON(draft.RenderHints)
	if err != nil {
		return intel.Blueprint{}, err
	}

	var stored intel.Blueprint
	err = s.inTx(ctx, "append blueprint", func(tx pgx.Tx) error {
		site, err := s.getSite(ctx, tx, draft.SiteID, true)
		if err != nil {
			return err
		}
		bp := draft
		bp.Version = site.BlueprintVersion + 1
		if _, err := tx.Exec(ctx, `INSERT INTO blueprints (`+blueprintColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			bp.ID,
			bp.SiteID,
			bp.Version,
			bp.Confidence,
			categories,
			endpoints,
			selectors,
			hints,
			bp.TemplateID,
			bp.CreatedBy,
			bp.Notes,
			bp.SchemaVersion,
			bp.CreatedAt,
		); err != nil {
			return mapError("insert blueprint", err)
		}
		patch.Apply(&site)
		site.BlueprintVersion = bp.Version
		site.UpdatedAt = bp.CreatedAt
		if err := writeSite(ctx, tx, site); err != nil {
			return err
		}
		stored = bp
		return nil
	})
	if err != nil {
		return intel.Blueprint{}, err
	}
	return stored, nil
}

// GetBlueprint fetches a blueprint by ID.
func (s *Store) GetBlueprint(ctx context.Context, blueprintID string) (intel.Blueprint, error) {
	bp, err := scanBlueprint(s.db.QueryRow(ctx,
		`SELECT `+blueprintColumns+` FROM blueprints WHERE blueprint_id = $1`, blueprintID))
	if err != nil {
		return intel.Blueprint{}, notFound("blueprint", blueprintID, err)
	}
	return bp, nil
}

// GetBlueprintVersion fetches one version of a site's history.
func (s *Store) GetBlueprintVersion(ctx context.Context, siteID string, version int) (intel.Blueprint, error) {
	bp, err := scanBlueprint(s.db.QueryRow(ctx,
		`SELECT `+blueprintColumns+` FROM blueprints WHERE site_id = $1 AND version = $2`, siteID, version))
	if err != nil {
		return intel.Blueprint{}, notFound("blueprint version", siteID, err)
	}
	return bp, nil
}

// ListBlueprints returns a site's history ordered by version descending.
func (s *Store) ListBlueprints(ctx context.Context, siteID string) ([]intel.Blueprint, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+blueprintColumns+` FROM blueprints WHERE site_id = $1 ORDER BY version DESC`, siteID)
	if err != nil {
		return nil, mapError("list blueprints", err)
	}
	defer rows.Close()
	out := make([]intel.Blueprint, 0)
	for rows.Next() {
		bp, err := scanBlueprint(rows)
		if err != nil {
			return nil, mapError("scan blueprint", err)
		}
		out = append(out, bp)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("list blueprints", err)
	}
	return out, nil
}

// LatestBlueprint returns the current version for a site.
func (s *Store) LatestBlueprint(ctx context.Context, siteID string) (intel.Blueprint, error) {
	bp, err := scanBlueprint(s.db.QueryRow(ctx,
		`SELECT `+blueprintColumns+` FROM blueprints WHERE site_id = $1 ORDER BY version DESC LIMIT 1`, siteID))
	if err != nil {
		return intel.Blueprint{}, notFound("blueprint for site", siteID, err)
	}
	return bp, nil
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
