// Package domain defines the core domain models for rowcache.
//
// Domain models are value objects without IO dependencies:
//
//   - Snapshot: an immutable, complete version of the dataset
//   - Record: one schema-less row of a snapshot
//   - RefreshTask: the pollable state of one admitted refresh
//   - Errors: coded domain errors shared by every layer
package domain
