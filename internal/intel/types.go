// Package intel defines the core types shared across the web intelligence
// subsystems: sites, fingerprints, blueprints, templates, and jobs.
package intel

import (
	"net/http"
	"time"
)

// SchemaVersion tags every persisted structured payload.
const SchemaVersion = 1

// SiteStatus represents where a site is in the discovery lifecycle.
type SiteStatus string

// Site status values.
const (
	SiteStatusPending SiteStatus = "pending"
	SiteStatusReady   SiteStatus = "ready"
	SiteStatusReview  SiteStatus = "review"
	SiteStatusFailed  SiteStatus = "failed"
)

// Valid reports whether s is a known site status.
func (s SiteStatus) Valid() bool {
	switch s {
	case SiteStatusPending, SiteStatusReady, SiteStatusReview, SiteStatusFailed:
		return true
	default:
		return false
	}
}

// JobStatus represents the lifecycle state of a job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued  JobStatus = "queued"
	JobStatusRunning JobStatus = "running"
	JobStatusSuccess JobStatus = "success"
	JobStatusFailed  JobStatus = "failed"
)

// Valid reports whether s is a known job status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusSuccess, JobStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSuccess || s == JobStatusFailed
}

// Active reports whether the job still occupies its (site, type) slot.
func (s JobStatus) Active() bool {
	return s == JobStatusQueued || s == JobStatusRunning
}

// CanTransition reports whether from -> to is an allowed edge.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusQueued:
		return to == JobStatusRunning || to == JobStatusFailed
	case JobStatusRunning:
		return to == JobStatusSuccess || to == JobStatusFailed
	default:
		return false
	}
}

// ProgressPercent maps a status onto the dashboard progress bar. It is a
// presentation helper and never feeds back into engine state.
func ProgressPercent(s JobStatus) int {
	switch s {
	case JobStatusQueued:
		return 10
	case JobStatusRunning:
		return 50
	case JobStatusSuccess, JobStatusFailed:
		return 100
	default:
		return 0
	}
}

// JobType names the kind of work a job performs.
type JobType string

// Supported job types.
const (
	JobTypeFingerprint JobType = "fingerprint"
	JobTypeDiscovery   JobType = "discovery"
	JobTypeExtraction  JobType = "extraction"
)

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeFingerprint, JobTypeDiscovery, JobTypeExtraction:
		return true
	default:
		return false
	}
}

// Site is the durable registry record for a target domain.
type Site struct {
	ID                 string       `json:"site_id"`
	Domain             string       `json:"domain"`
	Platform           *string      `json:"platform"`
	Status             SiteStatus   `json:"status"`
	ComplexityScore    *float64     `json:"complexity_score"`
	BusinessValueScore *float64     `json:"business_value_score"`
	BlueprintVersion   int          `json:"blueprint_version"`
	Fingerprint        *Fingerprint `json:"fingerprint_data"`
	Notes              string       `json:"notes"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// SitePatch carries the fields a job or builder may change on a site. Nil
// fields are left untouched.
type SitePatch struct {
	Fingerprint        *Fingerprint
	Platform           *string
	Status             *SiteStatus
	ComplexityScore    *float64
	BusinessValueScore *float64
	// DefaultBusinessValue is written only when the site has no score yet.
	// Scores set by operators are never replaced by an analyzer estimate.
	DefaultBusinessValue *float64
	Notes                *string
}

// Empty reports whether the patch changes nothing.
func (p SitePatch) Empty() bool {
	return p.Fingerprint == nil && p.Platform == nil && p.Status == nil &&
		p.ComplexityScore == nil && p.BusinessValueScore == nil &&
		p.DefaultBusinessValue == nil && p.Notes == nil
}

// Apply mutates site in place.
func (p SitePatch) Apply(site *Site) {
	if p.Fingerprint != nil {
		site.Fingerprint = p.Fingerprint
	}
	if p.Platform != nil {
		site.Platform = p.Platform
	}
	if p.Status != nil {
		site.Status = *p.Status
	}
	if p.ComplexityScore != nil {
		site.ComplexityScore = p.ComplexityScore
	}
	if p.BusinessValueScore != nil {
		site.BusinessValueScore = p.BusinessValueScore
	} else if p.DefaultBusinessValue != nil && site.BusinessValueScore == nil {
		site.BusinessValueScore = p.DefaultBusinessValue
	}
	if p.Notes != nil {
		site.Notes = *p.Notes
	}
}

// FingerprintPatch builds the site patch that persists an analyzer result.
// The analyzer's business value stays in the stored fingerprint and only
// seeds the site score when none is set.
func FingerprintPatch(fp Fingerprint) SitePatch {
	fpCopy := fp
	complexity := fp.ComplexityScore
	value := fp.BusinessValueScore
	patch := SitePatch{
		Fingerprint:          &fpCopy,
		ComplexityScore:      &complexity,
		DefaultBusinessValue: &value,
	}
	if fp.Platform != "" {
		platform := fp.Platform
		patch.Platform = &platform
	}
	return patch
}

// Technology describes one detected technology.
type Technology struct {
	Category string `json:"category" yaml:"category"`
	Version  string `json:"version,omitempty" yaml:"version,omitempty"`
}

// Technology categories emitted by the analyzer.
const (
	TechCategoryPlatform  = "platform"
	TechCategoryCMS       = "cms"
	TechCategoryFramework = "framework"
	TechCategoryAntiBot   = "anti_bot"
)

// ConfirmedSelector is a selector the analyzer found on the live page.
type ConfirmedSelector struct {
	FieldName string `json:"field_name"`
	Selector  string `json:"selector"`
}

// Signals holds the structural evidence gathered from a probe.
type Signals struct {
	Markers            []string            `json:"markers"`
	Headers            map[string]string   `json:"headers"`
	APIRoutes          []string            `json:"api_routes"`
	DOMPatterns        []string            `json:"dom_patterns"`
	ConfirmedSelectors []ConfirmedSelector `json:"confirmed_selectors"`
	CategoryLinks      []Category          `json:"category_links,omitempty"`
	AntiBot            []string            `json:"anti_bot"`
	RequiresJS         bool                `json:"requires_js"`
	ScriptCount        int                 `json:"script_count"`
	HTMLBytes          int                 `json:"html_bytes"`
	Pagination         Pagination          `json:"pagination,omitempty"`
	NextPageSelector   string              `json:"next_page_selector,omitempty"`
}

// Pagination is how a listing page reaches further results.
type Pagination string

// Pagination styles. The zero value means none was detected.
const (
	PaginationNone     Pagination = ""
	PaginationNumbered Pagination = "numbered"
	PaginationLoadMore Pagination = "load_more"
	PaginationInfinite Pagination = "infinite_scroll"
)

// Fingerprint is the analyzer's value object for one probe.
type Fingerprint struct {
	SchemaVersion      int                   `json:"schema_version"`
	Technologies       map[string]Technology `json:"technologies"`
	Signals            Signals               `json:"signals"`
	Platform           string                `json:"platform"`
	ComplexityScore    float64               `json:"complexity_score"`
	BusinessValueScore float64               `json:"business_value_score"`
	Confidence         float64               `json:"confidence"`
	ContentHash        string                `json:"content_hash,omitempty"`
	ProbedURL          string                `json:"probed_url,omitempty"`
	AnalyzedAt         time.Time             `json:"analyzed_at"`
}

// Confirmed returns the confirmed selector for field, if any.
func (f Fingerprint) Confirmed(field string) (string, bool) {
	for _, cs := range f.Signals.ConfirmedSelectors {
		if cs.FieldName == field {
			return cs.Selector, true
		}
	}
	return "", false
}

// Probe is the raw output of probing a site.
type Probe struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Routes     map[string]int
	Requests   int
	Duration   time.Duration
	FetchedAt  time.Time
}

// Category is a discovered product category.
type Category struct {
	Name        string `json:"name" yaml:"name"`
	URL         string `json:"url" yaml:"url"`
	Description string `json:"description" yaml:"description"`
}

// Endpoint is an API endpoint the extractor may call.
type Endpoint struct {
	Name   string `json:"name" yaml:"name"`
	URL    string `json:"url" yaml:"url"`
	Method string `json:"method" yaml:"method"`
}

// Selector resolution methods.
const (
	SelectorMethodFingerprint = "fingerprint"
	SelectorMethodTemplate    = "template"
)

// Selector maps a field to a CSS selector.
type Selector struct {
	FieldName string `json:"field_name" yaml:"field_name"`
	Selector  string `json:"selector" yaml:"selector"`
	Method    string `json:"method" yaml:"method"`
}

// RenderHints are rendering directives for the extractor.
type RenderHints struct {
	RequiresJS      bool              `json:"requires_js" yaml:"requires_js" mapstructure:"requires_js"`
	WaitForSelector string            `json:"wait_for_selector,omitempty" yaml:"wait_for_selector,omitempty"`
	TimeoutSeconds  int               `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
	Pagination      Pagination        `json:"pagination,omitempty" yaml:"pagination,omitempty"`
	NextPage        string            `json:"next_page_selector,omitempty" yaml:"next_page_selector,omitempty"`
	ScrollToLoad    bool              `json:"scroll_to_load,omitempty" yaml:"scroll_to_load,omitempty"`
	Extra           map[string]string `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// Blueprint is an immutable, versioned extraction recipe for a site.
type Blueprint struct {
	ID            string      `json:"blueprint_id"`
	SiteID        string      `json:"site_id"`
	Version       int         `json:"version"`
	Confidence    *float64    `json:"confidence_score"`
	Categories    []Category  `json:"categories_data"`
	Endpoints     []Endpoint  `json:"endpoints_data"`
	Selectors     []Selector  `json:"selectors_data"`
	RenderHints   RenderHints `json:"render_hints_data"`
	TemplateID    string      `json:"template_id,omitempty"`
	CreatedBy     string      `json:"created_by"`
	Notes         string      `json:"notes"`
	CreatedAt     time.Time   `json:"created_at"`
	SchemaVersion int         `json:"schema_version"`
}

// ConfidenceValue returns the confidence or 0 when unset.
func (b Blueprint) ConfidenceValue() float64 {
	if b.Confidence == nil {
		return 0
	}
	return *b.Confidence
}

// Matcher kinds understood by the template matcher.
const (
	MatcherTechnology = "technology"
	MatcherMarker     = "marker"
	MatcherHeader     = "header"
	MatcherAPIRoute   = "api_route"
	MatcherDOMPattern = "dom_pattern"
)

// Matcher is one predicate tested against a fingerprint.
type Matcher struct {
	Kind  string `json:"kind" yaml:"kind"`
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value,omitempty" yaml:"value,omitempty"`
}

// Template is a reusable platform-level default selector and pattern set.
type Template struct {
	ID                   string              `json:"template_id" yaml:"template_id"`
	PlatformName         string              `json:"platform_name" yaml:"platform_name"`
	PlatformVariant      *string             `json:"platform_variant" yaml:"platform_variant"`
	CategorySelectors    map[string]string   `json:"category_selectors" yaml:"category_selectors"`
	ProductListSelectors map[string]string   `json:"product_list_selectors" yaml:"product_list_selectors"`
	APIPatterns          map[string][]string `json:"api_patterns" yaml:"api_patterns"`
	RenderHints          RenderHints         `json:"render_hints" yaml:"render_hints"`
	MatchPatterns        []Matcher           `json:"match_patterns" yaml:"match_patterns"`
	Confidence           *float64            `json:"confidence" yaml:"confidence"`
	Active               bool                `json:"active" yaml:"active"`
	CreatedAt            time.Time           `json:"created_at" yaml:"-"`
	UpdatedAt            time.Time           `json:"updated_at" yaml:"-"`
}

// ConfidenceValue returns the template confidence or 0 when unset.
func (t Template) ConfidenceValue() float64 {
	if t.Confidence == nil {
		return 0
	}
	return *t.Confidence
}

// Job is the metadata persisted for each unit of scheduled work.
type Job struct {
	ID         string     `json:"job_id"`
	Type       JobType    `json:"job_type"`
	Method     *string    `json:"method"`
	Status     JobStatus  `json:"status"`
	SiteID     string     `json:"site_id"`
	Priority   int        `json:"priority"`
	Attempt    int        `json:"attempt"`
	MaxRetries int        `json:"max_retries"`
	RetryOf    string     `json:"retry_of,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Result     *JobResult `json:"result,omitempty"`
	Error      *JobError  `json:"error,omitempty"`
}

// MethodLabel returns the method or "default" when unset.
func (j Job) MethodLabel() string {
	if j.Method == nil || *j.Method == "" {
		return "default"
	}
	return *j.Method
}

// Duration returns the run time of a finished job.
func (j Job) Duration() (time.Duration, bool) {
	if j.StartedAt == nil || j.FinishedAt == nil {
		return 0, false
	}
	return j.FinishedAt.Sub(*j.StartedAt), true
}

// JobResult is recorded on successful completion.
type JobResult struct {
	BlueprintID         string  `json:"blueprint_id,omitempty"`
	BlueprintVersion    int     `json:"blueprint_version,omitempty"`
	Confidence          float64 `json:"confidence,omitempty"`
	Platform            string  `json:"platform,omitempty"`
	DurationSeconds     float64 `json:"duration_seconds"`
	CostUSD             float64 `json:"cost_usd"`
	CategoriesFound     int     `json:"categories_found"`
	EndpointsFound      int     `json:"endpoints_found"`
	ItemsFound          int     `json:"items_found,omitempty"`
	SelectorFailureRate float64 `json:"selector_failure_rate,omitempty"`
}

// JobError is recorded on failure.
type JobError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// JobOutcome is the terminal transition applied by CompleteJob.
type JobOutcome struct {
	Status     JobStatus
	Result     *JobResult
	Error      *JobError
	FinishedAt time.Time
	// SitePatch is applied to the job's site in the same atomic unit.
	SitePatch *SitePatch
}

// JobEvent is one row of a job's progress timeline.
type JobEvent struct {
	JobID string    `json:"job_id"`
	Stage string    `json:"stage"`
	Step  string    `json:"step,omitempty"`
	Note  string    `json:"note,omitempty"`
	At    time.Time `json:"at"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID    string
	Priority int
}
