// Package board serves a cached per-project summary for dashboards.
package board

import (
	"context"
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"tradeline/internal/domain"
	"tradeline/internal/repo"
)

const DefaultSize = 256

// View is what a client or professional sees at a glance.
type View struct {
	Project      domain.Project                   `json:"project"`
	Applications map[domain.ApplicationStatus]int `json:"applications"`
	EventCount   int                              `json:"event_count"`
	LatestEvent  *domain.Event                    `json:"latest_event,omitempty"`
	Reviewed     bool                             `json:"reviewed"`
}

// maxTracked bounds the per-project notification marks kept between purges.
const maxTracked = 4096

// Board caches views until a change notification for the project arrives.
//
// A load that overlaps a notification for the same project is returned to its caller but
// not cached: marks records the sequence of the last notification per project, and a view
// is only added when no notification was seen after the load began.
type Board struct {
	repo  repo.Repo
	cache *lru.Cache[string, View]

	mu    sync.Mutex
	seq   uint64
	floor uint64
	marks map[string]uint64

	// afterLoad runs between reading a view and caching it.
	afterLoad func()
}

func New(r repo.Repo, size int) (*Board, error) {
	if size <= 0 {
		size = DefaultSize
	}
	cache, err := lru.New[string, View](size)
	if err != nil {
		return nil, err
	}
	return &Board{repo: r, cache: cache, marks: map[string]uint64{}}, nil
}

// Notify drops the cached view of projectID; it satisfies notify.Notifier.
// An empty projectID drops every view.
func (b *Board) Notify(projectID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	if projectID == "" || len(b.marks) >= maxTracked {
		b.floor = b.seq
		clear(b.marks)
		b.cache.Purge()
		return
	}
	b.marks[projectID] = b.seq
	b.cache.Remove(projectID)
}

// Cached reports whether a view for projectID is currently cached.
func (b *Board) Cached(projectID string) bool {
	return b.cache.Contains(projectID)
}

func (b *Board) View(ctx context.Context, projectID string) (View, error) {
	if v, ok := b.cache.Get(projectID); ok {
		return v, nil
	}
	b.mu.Lock()
	start := b.seq
	b.mu.Unlock()

	v, err := b.load(ctx, projectID)
	if err != nil {
		return View{}, err
	}
	if b.afterLoad != nil {
		b.afterLoad()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if start >= b.floor && b.marks[projectID] <= start {
		b.cache.Add(projectID, v)
	}
	return v, nil
}

// load reads every part of the view in one transaction so they agree with each other.
func (b *Board) load(ctx context.Context, projectID string) (View, error) {
	tx, err := b.repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return View{}, err
	}
	defer tx.Rollback()

	p, err := b.repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return View{}, err
	}
	counts, err := b.repo.CountApplicationsByStatusTx(ctx, tx, projectID)
	if err != nil {
		return View{}, err
	}
	n, err := b.repo.CountEventsTx(ctx, tx, projectID, "")
	if err != nil {
		return View{}, err
	}
	v := View{Project: p, Applications: counts, EventCount: n}
	latest, err := b.repo.ListEventsTx(ctx, tx, repo.EventFilters{ProjectID: projectID, Limit: 1})
	if err != nil {
		return View{}, err
	}
	if len(latest) == 1 {
		v.LatestEvent = &latest[0]
	}
	_, err = b.repo.GetReviewByProjectTx(ctx, tx, projectID)
	switch {
	case err == nil:
		v.Reviewed = true
	case !errors.Is(err, repo.ErrNotFound):
		return View{}, err
	}
	return v, nil
}
