package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/web-intel-platform/internal/intel"
	"github.com/JakeFAU/web-intel-platform/internal/store"
)

const siteColumns = `site_id, domain, platform, status, complexity_score, business_value_score,
	blueprint_version, fingerprint_data, notes, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSite(row scanner) (intel.Site, error) {
	var (
		site        intel.Site
		status      string
		fingerprint []byte
	)
	if err := row.Scan(
		&site.ID,
		&site.Domain,
		&site.Platform,
		&status,
		&site.ComplexityScore,
		&site.BusinessValueScore,
		&site.BlueprintVersion,
		&fingerprint,
		&site.Notes,
		&site.CreatedAt,
		&site.UpdatedAt,
	); err != nil {
		return intel.Site{}, err
	}
	site.Status = intel.SiteStatus(status)
	if len(fingerprint) > 0 && string(fingerprint) != "null" {
		var fp intel.Fingerprint
		if err := unmarshalJSON(fingerprint, &fp); err != nil {
			return intel.Site{}, err
		}
		site.Fingerprint = &fp
	}
	return site, nil
}

func fingerprintArg(fp *intel.Fingerprint) ([]byte, error) {
	if fp == nil {
		return nil, nil
	}
	return marshalJSON(fp)
}

// CreateSite inserts a site. The unique domain constraint turns duplicates
// into conflicts.
func (s *Store) CreateSite(ctx context.Context, site intel.Site) error {
	fingerprint, err := fingerprintArg(site.Fingerprint)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `INSERT INTO sites (`+siteColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		site.ID,
		site.Domain,
		site.Platform,
		string(site.Status),
		site.ComplexityScore,
		site.BusinessValueScore,
		site.BlueprintVersion,
		fingerprint,
		site.Notes,
		site.CreatedAt,
		site.UpdatedAt,
	)
	return mapError("insert site", err)
}

// GetSite fetches a site by ID.
func (s *Store) GetSite(ctx context.Context, siteID string) (intel.Site, error) {
	return s.getSite(ctx, s.db, siteID, false)
}

func (s *Store) getSite(ctx context.Context, q querier, siteID string, lock bool) (intel.Site, error) {
	query := `SELECT ` + siteColumns + ` FROM sites WHERE site_id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	site, err := scanSite(q.QueryRow(ctx, query, siteID))
	if err != nil {
		return intel.Site{}, notFound("site", siteID, err)
	}
	return site, nil
}

// ListSites returns matching sites newest first with the unpaginated total.
func (s *Store) ListSites(ctx context.Context, filter store.SiteFilter) ([]intel.Site, int, error) {
	where, args := siteWhere(filter)

	var total int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM sites`+where, args...).Scan(&total); err != nil {
		return nil, 0, mapError("count sites", err)
	}

	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, store.ClampLimit(filter.Limit), offset)
	query := fmt.Sprintf(`SELECT %s FROM sites%s ORDER BY created_at DESC, site_id DESC LIMIT $%d OFFSET $%d`,
		siteColumns, where, len(args)-1, len(args))
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, mapError("list sites", err)
	}
	defer rows.Close()

	sites := make([]intel.Site, 0)
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, 0, mapError("scan site", err)
		}
		sites = append(sites, site)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, mapError("list sites", err)
	}
	return sites, total, nil
}

func siteWhere(filter store.SiteFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Platform != nil {
		args = append(args, *filter.Platform)
		clauses = append(clauses, fmt.Sprintf("platform = $%d", len(args)))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// UpdateSite applies patch under a row lock and returns the updated record.
func (s *Store) UpdateSite(ctx context.Context, siteID string, patch intel.SitePatch, at time.Time) (intel.Site, error) {
	var updated intel.Site
	err := s.inTx(ctx, "update site", func(tx pgx.Tx) error {
		site, err := s.getSite(ctx, tx, siteID, true)
		if err != nil {
			return err
		}
		patch.Apply(&site)
		site.UpdatedAt = at
		if err := writeSite(ctx, tx, site); err != nil {
			return err
		}
		updated = site
		return nil
	})
	return updated, err
}

// writeSite persists every mutable column of site.
func writeSite(ctx context.Context, q querier, site intel.Site) error {
	fingerprint, err := fingerprintArg(site.Fingerprint)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `UPDATE sites SET
		platform = $2,
		status = $3,
		complexity_score = $4,
		business_value_score = $5,
		blueprint_version = $6,
		fingerprint_data = $7,
		notes = $8,
		updated_at = $9
		WHERE site_id = $1`,
		site.ID,
		site.Platform,
		string(site.Status),
		site.ComplexityScore,
		site.BusinessValueScore,
		site.BlueprintVersion,
		fingerprint,
		site.Notes,
		site.UpdatedAt,
	)
	return mapError("update site", err)
}

// DeleteSite removes the site. Blueprints cascade; jobs are kept as history.
func (s *Store) DeleteSite(ctx context.Context, siteID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM sites WHERE site_id = $1`, siteID)
	if err != nil {
		return mapError("delete site", err)
	}
	if tag.RowsAffected() == 0 {
		return intel.NotFound("site", siteID)
	}
	return nil
}
