// Package scheduler implements the per-repository state machine and fleet
// manager named in spec.md §4.8: {idle, waiting, syncing} with at-most-one
// Executor run in flight per repository and a pending-trigger bit that
// coalesces concurrent triggers.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quay/zlog"

	"github.com/zextras/reposync/internal/executor"
	"github.com/zextras/reposync/reposync"
)

// runner owns one repository's trigger channel, timers, and status
// snapshot. The channel is buffered to depth 1, the same single-flight
// idiom the pack's localLockSource uses: a second send while one is
// outstanding is dropped, which is exactly the "coalesce concurrent
// triggers into a pending bit" behavior spec.md §4.8 asks for.
type runner struct {
	repo     reposync.Repository
	deps     executor.Deps
	minDelay time.Duration
	maxDelay time.Duration

	trigger chan struct{}

	mu     sync.RWMutex
	status reposync.RunStatus
}

func newRunner(repo reposync.Repository, deps executor.Deps, minDelay, maxDelay time.Duration) *runner {
	return &runner{
		repo:     repo,
		deps:     deps,
		minDelay: minDelay,
		maxDelay: maxDelay,
		trigger:  make(chan struct{}, 1),
		status: reposync.RunStatus{
			Name:  repo.Name,
			Phase: reposync.PhaseIdle,
		},
	}
}

// Trigger enqueues a sync request. It never blocks: a request arriving
// while one is already queued is coalesced into the same pending slot.
func (r *runner) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

func (r *runner) Status() reposync.RunStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

func (r *runner) setPhase(p reposync.Phase, nextSync time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.Phase = p
	r.status.NextSyncMS = nextSync.UnixMilli()
}

func (r *runner) recordResult(out executor.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.LastSyncMS = time.Now().UnixMilli()
	if out.Err != nil {
		if se, ok := out.Err.(*reposync.SyncError); ok {
			r.status.LastResult = se.LastResult()
		} else {
			r.status.LastResult = "failure: " + out.Err.Error()
		}
		return
	}
	r.status.LastResult = reposync.ResultOK
	r.status.Size = out.Manifest.TotalSize()
	r.status.Packages = int64(out.Manifest.PackageCount())
}

// loop is the repository's run task (spec.md §5): one goroutine, driving
// the state machine until ctx is cancelled. Because the same goroutine both
// executes Run and services the trigger channel, at most one Executor
// invocation is ever in flight for this repository, satisfying the
// single-flight property.
func (r *runner) loop(ctx context.Context) {
	ctx = zlog.ContextWithValues(ctx, "component", "scheduler/runner.loop", "repo", r.repo.Name)
	maxTimer := time.NewTimer(r.maxDelay)
	defer maxTimer.Stop()
	r.setPhase(reposync.PhaseIdle, time.Now().Add(r.maxDelay))

	for {
		select {
		case <-ctx.Done():
			return
		case <-maxTimer.C:
			r.runOnceAndSettle(ctx, maxTimer)
		case <-r.trigger:
			r.runOnceAndSettle(ctx, maxTimer)
		}
	}
}

// runOnceAndSettle drives one Executor run, then decides the next state:
// waiting (with min_sync_delay) if a trigger coalesced while syncing,
// otherwise idle (with a fresh max_sync_delay timer).
func (r *runner) runOnceAndSettle(ctx context.Context, maxTimer *time.Timer) {
	r.setPhase(reposync.PhaseSyncing, time.Time{})
	out := executor.Run(ctx, r.repo, r.deps)
	r.recordResult(out)

	select {
	case <-r.trigger:
		next := time.Now().Add(r.minDelay)
		r.setPhase(reposync.PhaseWaiting, next)
		go func(delay time.Duration) {
			t := time.NewTimer(delay)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
				r.Trigger()
			}
		}(r.minDelay)
	default:
		next := time.Now().Add(r.maxDelay)
		r.setPhase(reposync.PhaseIdle, next)
		if !maxTimer.Stop() {
			select {
			case <-maxTimer.C:
			default:
			}
		}
		maxTimer.Reset(r.maxDelay)
	}
}

// Manager is the fleet of runners named in spec.md §4.8 and §5: one
// goroutine per configured repository, no shared mutable state between
// them, each reachable only through Status/TriggerSync.
type Manager struct {
	runners map[string]*runner
}

// New constructs a Manager. deps supplies the fully wired executor.Deps for
// each repository (a distinct Storage/Fetcher/StateStore per repo, per
// spec.md §5's isolation requirement).
func New(repos []reposync.Repository, deps map[string]executor.Deps, minDelay, maxDelay time.Duration) *Manager {
	m := &Manager{runners: make(map[string]*runner, len(repos))}
	for _, repo := range repos {
		m.runners[repo.Name] = newRunner(repo, deps[repo.Name], minDelay, maxDelay)
	}
	return m
}

// Start launches one run-task goroutine per repository. It returns
// immediately; the goroutines run until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	for _, r := range m.runners {
		go r.loop(ctx)
	}
}

// Status returns the current snapshot for repo, or false if unknown.
func (m *Manager) Status(repo string) (reposync.RunStatus, bool) {
	r, ok := m.runners[repo]
	if !ok {
		return reposync.RunStatus{}, false
	}
	return r.Status(), true
}

// TriggerSync enqueues a sync for repo. If repo is reposync.AllRepos, every
// configured repository is triggered.
func (m *Manager) TriggerSync(repo string) error {
	if repo == reposync.AllRepos {
		for _, r := range m.runners {
			r.Trigger()
		}
		return nil
	}
	r, ok := m.runners[repo]
	if !ok {
		return fmt.Errorf("scheduler: unknown repository %q", repo)
	}
	r.Trigger()
	return nil
}

// Names returns every configured repository name, in no particular order.
func (m *Manager) Names() []string {
	out := make([]string, 0, len(m.runners))
	for n := range m.runners {
		out = append(out, n)
	}
	return out
}
