// Package statestore implements the State Store named in spec.md §4.2: one
// small persisted document per repository, recording the last successfully
// published Manifest so the next run's Planner has something to diff
// against.
package statestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zextras/reposync/internal/storage"
	"github.com/zextras/reposync/reposync"
)

// diskState is the on-disk shape of a PriorState. It carries a Generation
// marker so a future reader can tell whether two state files came from the
// same lineage of commits, the same role the pack's jsonblob Entry/Ref pairs
// play for update operations.
type diskState struct {
	Generation  uuid.UUID         `json:"generation"`
	Manifest    reposync.Manifest `json:"manifest"`
	CommittedAt time.Time         `json:"committed_at"`
	LastResult  string            `json:"last_result"`
}

// Store persists one PriorState per repository name under a Storage
// implementation, keyed by "<name>/state.json". Unknown fields in the persisted
// document are ignored on load, satisfying spec.md §6's forward-compatibility
// requirement.
type Store struct {
	Backend storage.Storage
}

func New(backend storage.Storage) *Store {
	return &Store{Backend: backend}
}

func keyFor(repo string) string {
	return repo + "/state.json"
}

// Load returns the persisted PriorState for repo, or the zero PriorState
// (empty Manifest, zero CommittedAt) if none has ever been committed.
func (s *Store) Load(ctx context.Context, repo string) (reposync.PriorState, error) {
	b, err := s.Backend.Read(ctx, keyFor(repo))
	if errors.Is(err, storage.ErrNotFound) {
		return reposync.PriorState{Manifest: reposync.Manifest{}}, nil
	}
	if err != nil {
		return reposync.PriorState{}, fmt.Errorf("statestore: load %q: %w", repo, err)
	}
	var d diskState
	if err := json.Unmarshal(b, &d); err != nil {
		return reposync.PriorState{}, fmt.Errorf("statestore: decode %q: %w", repo, err)
	}
	if d.Manifest == nil {
		d.Manifest = reposync.Manifest{}
	}
	return reposync.PriorState{
		Manifest:    d.Manifest,
		CommittedAt: d.CommittedAt,
		LastResult:  d.LastResult,
	}, nil
}

// Commit persists state for repo, replacing whatever was there before. It's
// the only write this package performs, and the Scheduler's single-flight
// guarantee (spec.md §4.2) is what keeps concurrent Commits for the same
// repo from racing.
func (s *Store) Commit(ctx context.Context, repo string, state reposync.PriorState) error {
	d := diskState{
		Generation:  uuid.New(),
		Manifest:    state.Manifest,
		CommittedAt: state.CommittedAt,
		LastResult:  state.LastResult,
	}
	b, err := json.Marshal(&d)
	if err != nil {
		return fmt.Errorf("statestore: encode %q: %w", repo, err)
	}
	if err := s.Backend.WriteAtomic(ctx, keyFor(repo), bytes.NewReader(b), int64(len(b)), "application/json"); err != nil {
		return fmt.Errorf("statestore: commit %q: %w", repo, err)
	}
	return nil
}
