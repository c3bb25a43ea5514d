//go:build !cgo
// +build !cgo

package store

import (
	_ "modernc.org/sqlite"
)

const sqliteDriver = "sqlite"

func sqliteDSN(path string) string {
	if path == ":memory:" {
		return path
	}
	return "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}
