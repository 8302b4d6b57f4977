// Package e2e holds end-to-end tests for the finder and launcher binaries.
// The tests are opt-in: run them with `go test -tags e2e ./test/e2e`.
package e2e
