//go:build sqlite_vec && cgo

package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Registers the sqlite-vec extension as auto-loadable for every
	// subsequent sqlite3 connection mattn/go-sqlite3 opens in this process.
	vec.Auto()
}
