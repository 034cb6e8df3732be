// Package storage selects and opens the snapshot persistence backend.
//
// Backends:
//
//   - file: snapshot files in data_dir (package snapshot)
//   - badger: an embedded Badger database in data_dir (package kvstore)
//   - none: nothing is persisted; a restart starts pending
//
// A configured encryption key is turned into a 32-byte master key (see
// MasterKey) and per-backend subkeys are derived from it with HKDF.
package storage
