// Package command defines the rowcache-cli commands.
//
// Every command talks to the server's JSON API through
// connection.HTTPClient and prints through an output.Formatter chosen by
// the global --output flag:
//
//   - status, health, meta: server and snapshot state
//   - page, range: record reads
//   - refresh, task: refresh control
//   - export: full snapshot dump as JSON or CSV
//   - config: the local CLI settings file
package command
