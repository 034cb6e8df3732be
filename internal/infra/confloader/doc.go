// Package confloader loads layered configuration with koanf.
//
// Sources, lowest priority first:
//
//  1. Values already present in the target struct (defaults)
//  2. The YAML configuration file
//  3. ROWCACHE_* environment variables
//  4. Explicit overrides passed through LoadMap (command-line flags)
//
// Environment names are matched against the keys of the target struct, so
// ROWCACHE_STORAGE_DATA_DIR sets storage.data_dir rather than
// storage.data.dir. Names that match no known key fall back to mapping
// every underscore to a dot.
//
// Watcher reports changes to the configuration file so the server can
// reload hot-reloadable settings such as log.level.
package confloader
