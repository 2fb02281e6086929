//go:build cgo

package postgres

const CGOEnabled = true
