package engine

import (
	"database/sql"
	"fmt"

	"github.com/ilkerhalil/kvlite/internal/entry"
)

// rowScanner abstracts over *sql.Row and *sql.Rows, both of which
// expose Scan(...any) error.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntryRow(row *sql.Row, maxParentKeys int) (*entry.Entry, error) {
	return scanEntry(row, maxParentKeys)
}

func scanEntryRows(rows *sql.Rows, maxParentKeys int) (*entry.Entry, error) {
	return scanEntry(rows, maxParentKeys)
}

func scanEntry(s rowScanner, maxParentKeys int) (*entry.Entry, error) {
	var ent entry.Entry
	dest := []any{
		&ent.Hash, &ent.Partition, &ent.Key,
		&ent.UTCCreation, &ent.UTCExpiry, &ent.Interval,
		&ent.Compressed, &ent.Value,
	}

	parentHashes := make([]sql.NullInt64, maxParentKeys)
	parentKeys := make([]sql.NullString, maxParentKeys)
	for i := 0; i < maxParentKeys; i++ {
		dest = append(dest, &parentHashes[i], &parentKeys[i])
	}

	if err := s.Scan(dest...); err != nil {
		return nil, fmt.Errorf("scan entry: %w", err)
	}

	for i := 0; i < maxParentKeys; i++ {
		if parentHashes[i].Valid && parentKeys[i].Valid {
			ent.Parents = append(ent.Parents, entry.ParentRef{Hash: parentHashes[i].Int64, Key: parentKeys[i].String})
		}
	}
	return &ent, nil
}
