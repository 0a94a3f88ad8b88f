package blueprint

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/web-intel-platform/internal/intel"
	"github.com/JakeFAU/web-intel-platform/internal/store"
	"github.com/JakeFAU/web-intel-platform/internal/templates"
)

// TopicBlueprintCreated is published after every committed version.
const TopicBlueprintCreated = "blueprint.created"

// CandidateFinder ranks templates for a fingerprint.
type CandidateFinder interface {
	FindCandidates(ctx context.Context, fp intel.Fingerprint) ([]templates.Candidate, error)
}

// Repository is the slice of the store the service writes through.
type Repository interface {
	store.SiteRepository
	store.BlueprintRepository
}

// Created is the payload of TopicBlueprintCreated.
type Created struct {
	BlueprintID string           `json:"blueprint_id"`
	SiteID      string           `json:"site_id"`
	Version     int              `json:"version"`
	Confidence  float64          `json:"confidence_score"`
	SiteStatus  intel.SiteStatus `json:"site_status"`
	TemplateID  string           `json:"template_id,omitempty"`
	CreatedBy   string           `json:"created_by"`
	ArchiveURI  string           `json:"archive_uri,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Attributes exposes routing attributes for Pub/Sub subscribers.
func (c Created) Attributes() map[string]string {
	return map[string]string{"site_id": c.SiteID, "site_status": string(c.SiteStatus)}
}

// CommitObserver is told about every committed blueprint.
type CommitObserver func(bp intel.Blueprint, status intel.SiteStatus)

// Deps wires a Service.
type Deps struct {
	Repo      Repository
	Finder    CandidateFinder
	Builder   *Builder
	IDs       intel.IDGenerator
	Clock     intel.Clock
	Blobs     intel.BlobStore
	Publisher intel.Publisher
	Logger    *zap.Logger
	Observer  CommitObserver
}

// Service commits blueprints: build, version, archive, announce.
type Service struct {
	repo      Repository
	finder    CandidateFinder
	builder   *Builder
	ids       intel.IDGenerator
	clock     intel.Clock
	blobs     intel.BlobStore
	publisher intel.Publisher
	logger    *zap.Logger
	observer  CommitObserver
}

// NewService creates a Service. Blobs and Publisher are optional.
func NewService(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	builder := deps.Builder
	if builder == nil {
		builder = NewBuilder(DefaultConfig())
	}
	return &Service{
		repo:      deps.Repo,
		finder:    deps.Finder,
		builder:   builder,
		ids:       deps.IDs,
		clock:     deps.Clock,
		blobs:     deps.Blobs,
		publisher: deps.Publisher,
		logger:    logger.Named("blueprint"),
		observer:  deps.Observer,
	}
}

// Commit validates fp, matches templates, builds a draft, and persists it as
// the site's next version. An invalid fingerprint never reaches the store.
func (s *Service) Commit(ctx context.Context, siteID string, fp intel.Fingerprint) (intel.Blueprint, error) {
	if err := ValidateFingerprint(fp); err != nil {
		return intel.Blueprint{}, err
	}
	candidates, err := s.Candidates(ctx, fp)
	if err != nil {
		return intel.Blueprint{}, err
	}
	draft, err := s.Draft(ctx, siteID, fp, candidates)
	if err != nil {
		return intel.Blueprint{}, err
	}
	return s.Persist(ctx, draft, fp)
}

// Candidates ranks templates for fp.
func (s *Service) Candidates(ctx context.Context, fp intel.Fingerprint) ([]templates.Candidate, error) {
	candidates, err := s.finder.FindCandidates(ctx, fp)
	if err != nil {
		return nil, fmt.Errorf("find candidates: %w", err)
	}
	return candidates, nil
}

// Draft builds an unversioned blueprint for the site. The draft carries its
// ID from here on, so persisting it again cannot add a second version.
func (s *Service) Draft(
	ctx context.Context,
	siteID string,
	fp intel.Fingerprint,
	candidates []templates.Candidate,
) (intel.Blueprint, error) {
	site, err := s.repo.GetSite(ctx, siteID)
	if err != nil {
		return intel.Blueprint{}, fmt.Errorf("load site: %w", err)
	}
	draft, err := s.builder.Build(site, fp, candidates)
	if err != nil {
		return intel.Blueprint{}, err
	}
	if draft.ID, err = s.ids.NewID(); err != nil {
		return intel.Blueprint{}, fmt.Errorf("blueprint id: %w", err)
	}
	return draft, nil
}

// Persist assigns the next version to draft and updates the site with the
// fingerprint and the status the confidence earns.
func (s *Service) Persist(ctx context.Context, draft intel.Blueprint, fp intel.Fingerprint) (intel.Blueprint, error) {
	if err := ValidateFingerprint(fp); err != nil {
		return intel.Blueprint{}, err
	}
	status := s.builder.StatusFor(draft.ConfidenceValue())
	patch := intel.FingerprintPatch(fp)
	patch.Status = &status
	return s.append(ctx, draft, patch, status)
}

// Rollback re-publishes an earlier version as the newest one.
func (s *Service) Rollback(ctx context.Context, siteID string, version int) (intel.Blueprint, error) {
	if version < 1 {
		return intel.Blueprint{}, intel.Validation("rollback", map[string]string{"version": "must be positive"})
	}
	target, err := s.repo.GetBlueprintVersion(ctx, siteID, version)
	if err != nil {
		return intel.Blueprint{}, fmt.Errorf("load version %d: %w", version, err)
	}
	draft := target
	draft.ID = ""
	draft.CreatedBy = CreatedByRollback
	draft.Notes = fmt.Sprintf("rollback of v%d", version)
	status := s.builder.StatusFor(target.ConfidenceValue())
	return s.append(ctx, draft, intel.SitePatch{Status: &status}, status)
}

func (s *Service) append(
	ctx context.Context,
	draft intel.Blueprint,
	patch intel.SitePatch,
	status intel.SiteStatus,
) (intel.Blueprint, error) {
	if draft.ID == "" {
		id, err := s.ids.NewID()
		if err != nil {
			return intel.Blueprint{}, fmt.Errorf("blueprint id: %w", err)
		}
		draft.ID = id
	}
	draft.Version = 0
	draft.CreatedAt = s.clock.Now()
	draft.SchemaVersion = intel.SchemaVersion

	bp, err := s.repo.AppendBlueprint(ctx, draft, patch)
	if intel.KindOf(err) == intel.KindConflict {
		if stored, ok := s.committed(ctx, draft); ok {
			return stored, nil
		}
	}
	if err != nil {
		return intel.Blueprint{}, fmt.Errorf("append blueprint: %w", err)
	}
	s.logger.Info("blueprint committed",
		zap.String("site_id", bp.SiteID),
		zap.String("blueprint_id", bp.ID),
		zap.Int("version", bp.Version),
		zap.Float64("confidence", bp.ConfidenceValue()),
		zap.String("site_status", string(status)),
	)
	if s.observer != nil {
		s.observer(bp, status)
	}
	uri := s.archive(ctx, bp)
	s.announce(ctx, bp, status, uri)
	return bp, nil
}

// committed returns the stored copy of a draft an earlier attempt already
// appended. Side effects ran with that attempt and are not repeated.
func (s *Service) committed(ctx context.Context, draft intel.Blueprint) (intel.Blueprint, bool) {
	stored, err := s.repo.GetBlueprint(ctx, draft.ID)
	if err != nil || stored.SiteID != draft.SiteID {
		return intel.Blueprint{}, false
	}
	s.logger.Info("blueprint already committed",
		zap.String("site_id", stored.SiteID),
		zap.String("blueprint_id", stored.ID),
		zap.Int("version", stored.Version),
	)
	return stored, true
}

// ArchivePath is the blob path of a version's JSON export.
func ArchivePath(bp intel.Blueprint) string {
	return fmt.Sprintf("blueprints/%s/v%d.json", bp.SiteID, bp.Version)
}

func (s *Service) archive(ctx context.Context, bp intel.Blueprint) string {
	if s.blobs == nil {
		return ""
	}
	data, err := Export(bp, FormatJSON, s.clock.Now())
	if err != nil {
		s.logger.Warn("blueprint export failed", zap.String("blueprint_id", bp.ID), zap.Error(err))
		return ""
	}
	uri, err := s.blobs.PutObject(ctx, ArchivePath(bp), ContentType(FormatJSON), bytes.NewReader(data))
	if err != nil {
		s.logger.Warn("blueprint archive failed", zap.String("blueprint_id", bp.ID), zap.Error(err))
		return ""
	}
	return uri
}

func (s *Service) announce(ctx context.Context, bp intel.Blueprint, status intel.SiteStatus, uri string) {
	if s.publisher == nil {
		return
	}
	event := Created{
		BlueprintID: bp.ID,
		SiteID:      bp.SiteID,
		Version:     bp.Version,
		Confidence:  bp.ConfidenceValue(),
		SiteStatus:  status,
		TemplateID:  bp.TemplateID,
		CreatedBy:   bp.CreatedBy,
		ArchiveURI:  uri,
		CreatedAt:   bp.CreatedAt,
	}
	if _, err := s.publisher.Publish(ctx, TopicBlueprintCreated, event); err != nil {
		s.logger.Warn("blueprint publish failed", zap.String("blueprint_id", bp.ID), zap.Error(err))
	}
}
