// Package snapshot persists published snapshots as files for restart
// recovery.
//
// File layout:
//
//	snapshot-<ulid>.snap
//	[magic:8 "RCSNAP01"]
//	[HeaderLen:4][HeaderJSON:HeaderLen]
//	[RecLen:4][Record:RecLen] x header.count   (JSON, or sealed bytes)
//	[checksum:32 SHA-256 of all bytes above]
//
// Next to every snapshot file the manager writes snapshot-<ulid>.meta.json
// holding the same metadata as the header, so metadata can be read without
// opening the snapshot itself.
//
// Load returns the newest snapshot that passes verification and falls back
// to older ones when the newest is corrupt.
package snapshot
