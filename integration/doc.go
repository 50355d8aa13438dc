//go:build integration

// Package integration provides integration tests for the redstash cache.
//
// These tests require Docker and spin up a real Redis coordinator using
// testcontainers. Run with: go test -tags=integration ./integration/...
package integration
