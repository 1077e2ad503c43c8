package pool_test

import (
	"context"
	"testing"

	"github.com/ilkerhalil/kvlite/internal/dialect/memsqlite"
	"github.com/ilkerhalil/kvlite/internal/pool"
	"github.com/stretchr/testify/require"
)

func TestOpenBootstrapsSchemaOnce(t *testing.T) {
	ctx := context.Background()
	d := memsqlite.New(0)
	dsn := memsqlite.ConnString(t.Name())

	p, err := pool.Open(ctx, d, dsn)
	require.NoError(t, err)
	defer p.Close()

	var count int
	err = p.DB().QueryRowContext(ctx, "SELECT count(*) FROM kv_entries").Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestOpenIsIdempotentAgainstExistingSchema(t *testing.T) {
	ctx := context.Background()
	d := memsqlite.New(0)
	dsn := memsqlite.ConnString(t.Name())

	p1, err := pool.Open(ctx, d, dsn)
	require.NoError(t, err)
	defer p1.Close()

	_, err = p1.DB().ExecContext(ctx,
		"INSERT INTO kv_entries (hash, partition, key, utcCreation, utcExpiry, interval, compressed, value) VALUES (1,'p','k',0,100,0,0,X'00')")
	require.NoError(t, err)

	p2, err := pool.Open(ctx, d, dsn)
	require.NoError(t, err)
	defer p2.Close()

	var count int
	require.NoError(t, p2.DB().QueryRowContext(ctx, "SELECT count(*) FROM kv_entries").Scan(&count))
	require.Equal(t, 1, count)
}
