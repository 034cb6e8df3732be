// Package httpserver serves the rowcache HTTP API.
//
// NewRouter mounts the handlers from package handler behind a per-route
// middleware chain: request ids, panic recovery, audit logging, request
// metrics, CORS, API key authentication and per-client rate limiting.
// Responses are gzip-compressed for clients that accept it.
//
// Server wraps http.Server with timeouts and optional TLS backed by a
// reloading certificate.
package httpserver
