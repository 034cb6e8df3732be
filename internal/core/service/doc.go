// Package service implements the refresh and read paths of rowcache.
//
// This package contains:
//
//   - RecordStore: holds the current immutable snapshot behind an atomic pointer
//   - RefreshCoordinator: admits at most one refresh at a time, on a schedule
//     and on demand, and publishes successful results to the store
//   - QueryService: paged, ranged and metadata reads against the current snapshot
//   - TaskTracker: bounded registry of refresh tasks for polling
//
// Reads never wait on a refresh. A failed refresh leaves the last good
// snapshot in place.
package service
