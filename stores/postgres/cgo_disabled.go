//go:build !cgo

package postgres

// CGOEnabled reports whether the store tests can run against the cgo sqlite
// dialector. Without cgo they skip.
const CGOEnabled = false
