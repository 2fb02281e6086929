//go:build cgo

package postgres

import (
	"fmt"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
)

func openTestDialector(t *testing.T) (*gormStore, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	return open(sqlite.Open(dsn))
}
