//go:build cgo

package kvlite

import (
	"github.com/ilkerhalil/kvlite/internal/dialect"
	"github.com/ilkerhalil/kvlite/internal/dialect/dolt"
)

func init() {
	newDoltDialect = func(path, database string) (*dialect.Dialect, error) {
		return dolt.New(dolt.Config{Path: path, Database: database}, 0), nil
	}
}
