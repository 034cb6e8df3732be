// Package connection is the rowcache-cli HTTP client.
//
// Requests carry the API key and are retried with backoff on transport
// failures. A response the server produced on purpose, identified by its
// X-Error-Code header, is never retried; it is decoded into an *APIError.
package connection
