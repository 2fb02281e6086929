//go:build !cgo

package postgres

import (
	"errors"
	"testing"
)

func openTestDialector(t *testing.T) (*gormStore, error) {
	return nil, errors.New("cgo disabled")
}
