package scheduler

import "errors"

// ErrEntryFull is returned by UpdateEntries when accepting every entry in
// the add batch would exceed the configured entry quota. The whole call is
// rejected; no partial application occurs.
var ErrEntryFull = errors.New("entry full")

// ErrUnknownEntry is returned by facade-level lookups for an id the
// scheduler has never heard of, or no longer knows about.
var ErrUnknownEntry = errors.New("unknown entry")

// ErrInvalidated marks an entry handle that existed but has since been
// removed server-side.
var ErrInvalidated = errors.New("invalidated")
