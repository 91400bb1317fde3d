package scheduler

import (
	"context"

	"github.com/google/uuid"

	"github.com/mogwaid/mogwaid/internal/entry"
)

// ScheduleRequest is one client-supplied (caller handle, property map)
// pair, the facade's raw input before peer resolution.
type ScheduleRequest struct {
	Handle     string
	Properties map[string]any
}

// ScheduleResult reports the outcome of one ScheduleRequest within a
// batch: either a new entry id, or the error that rejected it.
type ScheduleResult struct {
	EntryID string
	Err     error
}

// Schedule resolves the peer identity for each request, builds a
// ScheduleEntry for the ones that resolve, and admits them in a single
// UpdateEntries call — this is the shared implementation behind both the
// facade's single-entry Schedule and its batch ScheduleEntries method. A
// request whose peer cannot be identified fails on its own
// (IdentifyingPeer); the rest of the batch still proceeds. If the
// resulting UpdateEntries call fails with ErrEntryFull, that failure
// replaces every otherwise-successful result in the batch, since the
// whole call was rejected.
func (s *Scheduler) Schedule(ctx context.Context, reqs []ScheduleRequest) ([]ScheduleResult, error) {
	results := make([]ScheduleResult, len(reqs))
	var toAdd []*entry.Entry

	for i, r := range reqs {
		resolveCtx, cancel := mergeContext(ctx, s.shutdownCtx)
		identity, err := s.peerManager.EnsurePeerCredentials(resolveCtx, r.Handle)
		cancel()
		if err != nil {
			results[i] = ScheduleResult{Err: err}
			continue
		}
		s.identityCache.Set(r.Handle, identity)

		e, err := entry.FromProperties(uuid.NewString(), identity, r.Properties)
		if err != nil {
			results[i] = ScheduleResult{Err: err}
			continue
		}
		results[i] = ScheduleResult{EntryID: e.ID()}
		toAdd = append(toAdd, e)
	}

	if len(toAdd) == 0 {
		return results, nil
	}

	if err := s.UpdateEntries(toAdd, nil); err != nil {
		for i := range results {
			if results[i].Err == nil && results[i].EntryID != "" {
				results[i].EntryID = ""
				results[i].Err = err
			}
		}
		return results, err
	}
	return results, nil
}

// Remove is the facade's delegate for an entry's Remove method: it calls
// UpdateEntries with an empty add batch and id as the sole removal.
// Removing an unknown id is not an error.
func (s *Scheduler) Remove(id string) error {
	return s.UpdateEntries(nil, []string{id})
}

// mergeContext derives a context that is cancelled when either parent or
// shutdown completes, so in-flight peer resolutions are cancelled on
// Scheduler.Shutdown.
func mergeContext(parent, shutdown context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := make(chan struct{})
	go func() {
		select {
		case <-shutdown.Done():
			cancel()
		case <-stop:
		}
	}()
	return ctx, func() {
		cancel()
		close(stop)
	}
}
