//go:build !sqlite_cgo

// Package sqldriver selects the database/sql SQLite driver the budget
// ledger and thread registry open against. The budget ledger and
// registry code themselves are driver-agnostic over database/sql; this
// package is the single place that decides which driver backs the
// "sqlite" DSN, switchable by the sqlite_cgo build tag between the
// default pure-Go driver and an alternate cgo driver for environments
// that prefer it.
package sqldriver

import (
	_ "modernc.org/sqlite"
)

// Name is the database/sql driver name registered for this build.
const Name = "sqlite"
