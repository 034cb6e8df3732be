// Package handler implements the rowcache HTTP API.
//
//   - GET  /data        pages, row ranges or metadata of the current snapshot
//   - POST /refresh     admits an asynchronous refresh
//   - GET  /task/{id}   reports a refresh task
//   - GET  /health      liveness, no authentication
//   - GET  /status      snapshot age, refresh state and build info
//
// Every JSON response uses the Response envelope. Reads never wait on a
// refresh unless fresh=true is requested and enabled.
package handler
