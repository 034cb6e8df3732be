// Package buildinfo exposes version information for /status and -version.
//
// Release builds inject values with ldflags:
//
//	go build -ldflags "-X github.com/yndnr/rowcache/internal/infra/buildinfo.Version=v1.2.0 \
//	  -X github.com/yndnr/rowcache/internal/infra/buildinfo.Commit=$(git rev-parse --short HEAD)"
//
// Development builds fall back to the VCS stamp recorded by the Go
// toolchain.
package buildinfo
