// Package executor implements the crash-consistent publication protocol
// named in spec.md §4.7: the seven ordered steps that take a freshly parsed
// upstream Manifest to a durably published, referentially consistent
// destination.
package executor

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/quay/zlog"
	"github.com/rs/zerolog"

	"github.com/zextras/reposync/internal/fetch"
	"github.com/zextras/reposync/internal/metrics"
	"github.com/zextras/reposync/internal/planner"
	"github.com/zextras/reposync/internal/sign"
	"github.com/zextras/reposync/internal/statestore"
	"github.com/zextras/reposync/internal/storage"
	"github.com/zextras/reposync/reposync"
)

func outcomeLabel(err error) string {
	if err != nil {
		return "failure"
	}
	return reposync.ResultOK
}

// Deps bundles everything one Run needs, so the struct is easy to construct
// per-repository by the Scheduler and easy to fake in tests.
type Deps struct {
	Indexer     Indexer
	Fetcher     fetch.Fetcher
	Verifier    sign.Verifier
	Storage     storage.Storage
	Invalidator storage.Invalidator // nil if the repository has no CDN bound
	StateStore  *statestore.Store
}

// Outcome is what Run reports back to the Scheduler.
type Outcome struct {
	Manifest reposync.Manifest
	Err      error
}

// Run drives the seven-step protocol for one repository to completion. It
// never returns until the run has either committed or aborted; cancellation
// is observed only at suspension points (spec.md §5), which this function
// reaches via every Fetcher/Storage call taking ctx.
func Run(ctx context.Context, repo reposync.Repository, d Deps) (out Outcome) {
	runID := rand.Uint32()
	log := zerolog.Ctx(ctx).With().
		Str("component", "executor/Run").
		Str("repo", repo.Name).
		Uint32("run_id", runID).
		Logger()
	ctx = log.WithContext(ctx)
	ctx = zlog.ContextWithValues(ctx, "component", "executor/Run", "repo", repo.Name)
	log.Debug().Msg("start")
	defer log.Debug().Msg("done")

	start := time.Now()
	defer func() {
		result := outcomeLabel(out.Err)
		metrics.RunDuration.WithLabelValues(repo.Name, string(repo.Kind), result).Observe(time.Since(start).Seconds())
		metrics.RunTotal.WithLabelValues(repo.Name, string(repo.Kind), result).Inc()
	}()

	prior, err := d.StateStore.Load(ctx, repo.Name)
	if err != nil {
		return abort(repo.Name, "loading prior state", err)
	}

	// Step 1: acquire and verify upstream indexes.
	newManifest, err := d.Indexer.Index(ctx, repo, d.Fetcher, verifierFor(d.Verifier))
	if err != nil {
		return abort(repo.Name, "fetching upstream indexes", err)
	}
	if err := newManifest.Validate(referencedSet(newManifest)); err != nil {
		return abort(repo.Name, "validating upstream manifest", err)
	}

	// Step 2: plan.
	plan := planner.Compute(newManifest, prior.Manifest)
	log.Info().
		Int("add_packages", len(plan.ToAddPackages)).
		Int("add_indexes", len(plan.ToAddIndexes)).
		Int("keep", len(plan.ToKeep)).
		Int("delete", len(plan.ToDelete)).
		Msg("planned")
	metrics.PlanSetSize.WithLabelValues(repo.Name, string(repo.Kind), "add_packages").Set(float64(len(plan.ToAddPackages)))
	metrics.PlanSetSize.WithLabelValues(repo.Name, string(repo.Kind), "add_indexes").Set(float64(len(plan.ToAddIndexes)))
	metrics.PlanSetSize.WithLabelValues(repo.Name, string(repo.Kind), "keep").Set(float64(len(plan.ToKeep)))
	metrics.PlanSetSize.WithLabelValues(repo.Name, string(repo.Kind), "delete").Set(float64(len(plan.ToDelete)))

	// Step 3: publish new packages, one at a time, in manifest order.
	for _, p := range plan.ToAddPackages {
		entry := newManifest[p]
		if err := publishOne(ctx, d, repo.BaseURL, entry); err != nil {
			return abort(repo.Name, fmt.Sprintf("publishing package %q", p), err)
		}
		metrics.BytesPublished.WithLabelValues(repo.Name, string(repo.Kind)).Add(float64(entry.Size))
	}

	// Step 4: publish new indexes. This is the commit point: from here on,
	// a reader sees a consistent, if not yet fully cleaned-up, view.
	for _, p := range plan.ToAddIndexes {
		entry := newManifest[p]
		if err := publishOne(ctx, d, repo.BaseURL, entry); err != nil {
			return abort(repo.Name, fmt.Sprintf("publishing index %q", p), err)
		}
		metrics.BytesPublished.WithLabelValues(repo.Name, string(repo.Kind)).Add(float64(entry.Size))
	}

	// Step 5: invalidate CDN cache. Non-fatal.
	if d.Invalidator != nil {
		paths := append(append(append([]string{}, plan.ToAddPackages...), plan.ToAddIndexes...), plan.ToDelete...)
		if len(paths) > 0 {
			if err := d.Invalidator.Invalidate(ctx, paths); err != nil {
				log.Warn().Err(err).Msg("cdn invalidation failed, continuing")
			}
		}
	}

	// Step 6: delete superseded entries. Non-fatal.
	for _, p := range plan.ToDelete {
		if err := d.Storage.Delete(ctx, p); err != nil {
			log.Warn().Err(err).Str("path", p).Msg("delete failed, leaving orphan")
		}
	}

	// Step 7: commit state.
	newState := reposync.PriorState{
		Manifest:    newManifest,
		CommittedAt: time.Now().UTC(),
		LastResult:  reposync.ResultOK,
	}
	if err := d.StateStore.Commit(ctx, repo.Name, newState); err != nil {
		// The view is already published; the failure here means the next
		// run replans from a stale M_old and mostly no-ops (spec.md §7).
		return abort(repo.Name, "committing state", err)
	}

	log.Info().Msg("sync complete")
	return Outcome{Manifest: newManifest}
}

func publishOne(ctx context.Context, d Deps, baseURL string, entry reposync.ManifestEntry) error {
	declaredAlgos := make([]reposync.Algorithm, 0, len(entry.Digests))
	for _, dg := range entry.Digests {
		declaredAlgos = append(declaredAlgos, dg.Algo)
	}
	res, err := d.Fetcher.Fetch(ctx, baseURL+"/"+entry.Path, declaredAlgos)
	if err != nil {
		return fmt.Errorf("fetching: %w", err)
	}
	defer res.File.Close()
	if !res.Digests.Equal(entry.Digests) {
		return fmt.Errorf("digest mismatch: got %v, want %v", res.Digests, entry.Digests)
	}
	if _, err := res.File.Seek(0, 0); err != nil {
		return fmt.Errorf("seeking spool file: %w", err)
	}
	if err := d.Storage.WriteAtomic(ctx, entry.Path, res.File, res.Size, ""); err != nil {
		return fmt.Errorf("writing: %w", err)
	}
	return nil
}

func abort(repo, reason string, err error) Outcome {
	return Outcome{Err: reposync.NewSyncError(repo, reason, err)}
}

func verifierFor(v sign.Verifier) sign.Verifier {
	if v == nil {
		return sign.NoopVerifier{}
	}
	return v
}

func referencedSet(m reposync.Manifest) map[string]bool {
	// Every package path in the manifest came from parsing an index that's
	// also in the manifest, so by construction everything is referenced;
	// this exists as a hook for future index-level reference checking.
	ref := make(map[string]bool, len(m))
	for p, e := range m {
		if e.Role == reposync.RolePackage {
			ref[p] = true
		}
	}
	return ref
}
