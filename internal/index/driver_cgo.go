//go:build cgo_sqlite

// Build with -tags cgo_sqlite and CGO_ENABLED=1 to use mattn/go-sqlite3.
package index

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	driverName = "sqlite3"
	driverType = "cgo"
)
