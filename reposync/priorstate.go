package reposync

import "time"

// PriorState is the persisted unit written by the State Store: the last
// successfully published Manifest, when it was committed, and the result
// string that run recorded.
type PriorState struct {
	Manifest    Manifest
	CommittedAt time.Time
	LastResult  string
}
