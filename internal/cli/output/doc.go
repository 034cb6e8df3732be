// Package output renders rowcache-cli results.
//
// Results print as a table, JSON or YAML. Records additionally export as
// CSV. Progress feedback (spinner, progress bar) is drawn only when the
// writer is a terminal.
package output
