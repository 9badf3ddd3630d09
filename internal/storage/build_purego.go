//go:build purego || !sqlite_vec
// +build purego !sqlite_vec

package storage

// This file is compiled when building without CGO or with the purego tag.
// It uses a pure Go SQLite implementation; similarity is computed in Go
// from the stored embedding blobs.
//
// Build command:
//   CGO_ENABLED=0 go build -tags "purego" ./...
//
// Driver used: modernc.org/sqlite

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// VectorFunctionsAvailable indicates cosine_similarity() is callable from SQL
	VectorFunctionsAvailable = false

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)
