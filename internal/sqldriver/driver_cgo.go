//go:build sqlite_cgo

package sqldriver

import (
	_ "github.com/mattn/go-sqlite3"
)

// Name is the database/sql driver name registered for this build.
const Name = "sqlite3"
