// Package memory provides in-memory persistence for development and tests.
// A single mutex guards every table so multi-record updates (blueprint
// version assignment, job completion with a site patch) are atomic.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/web-intel-platform/internal/intel"
	"github.com/JakeFAU/web-intel-platform/internal/store"
)

// Store implements store.Store in memory.
type Store struct {
	mu         sync.RWMutex
	sites      map[string]intel.Site
	domains    map[string]string
	blueprints map[string]intel.Blueprint
	history    map[string][]string
	jobs       map[string]intel.Job
	active     map[activeKey]string
	templates  map[string]intel.Template
	events     map[string][]intel.JobEvent
}

type activeKey struct {
	siteID  string
	jobType intel.JobType
}

var _ store.Store = (*Store)(nil)

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		sites:      make(map[string]intel.Site),
		domains:    make(map[string]string),
		blueprints: make(map[string]intel.Blueprint),
		history:    make(map[string][]string),
		jobs:       make(map[string]intel.Job),
		active:     make(map[activeKey]string),
		templates:  make(map[string]intel.Template),
		events:     make(map[string][]intel.JobEvent),
	}
}

// Counts summarizes registry totals.
func (s *Store) Counts(_ context.Context) (store.Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byStatus := make(map[intel.SiteStatus]int)
	for _, site := range s.sites {
		byStatus[site.Status]++
	}
	return store.Counts{
		Sites:         len(s.sites),
		ActiveJobs:    len(s.active),
		Blueprints:    len(s.blueprints),
		SitesByStatus: byStatus,
	}, nil
}

// AppendJobEvents records progress rows for later inspection.
func (s *Store) AppendJobEvents(_ context.Context, events []intel.JobEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range events {
		s.events[evt.JobID] = append(s.events[evt.JobID], evt)
	}
	return nil
}

// ListJobEvents returns a job's timeline oldest first.
func (s *Store) ListJobEvents(_ context.Context, jobID string) ([]intel.JobEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.events[jobID]
	out := make([]intel.JobEvent, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
