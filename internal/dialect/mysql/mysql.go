// Package mysql renders the client/server RDBMS dialect (spec.md §4.3
// "at least one client/server RDBMS") on top of
// github.com/go-sql-driver/mysql. The upsert strategy
// (INSERT ... ON DUPLICATE KEY UPDATE) mirrors the teacher's
// internal/storage/dolt/config.go SetConfig / dependencies.go
// AddDependency pattern against the same MySQL wire protocol.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/ilkerhalil/kvlite/internal/dialect"
	"github.com/ilkerhalil/kvlite/internal/entry"
)

const driverName = "mysql"

// Config holds the connection parameters for a MySQL/MySQL-protocol
// server (also used by internal/dialect/dolt in server mode).
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	TLS      bool
}

// DSN renders cfg into a go-sql-driver/mysql data source name.
func DSN(cfg Config) string {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 3306
	}
	if cfg.User == "" {
		cfg.User = "root"
	}
	if cfg.Database == "" {
		cfg.Database = "kvlite"
	}
	tls := "false"
	if cfg.TLS {
		tls = "true"
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&tls=%s&timeout=10s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, tls)
}

// New returns the Dialect for a MySQL-protocol client/server backend.
func New(maxParentKeys int) *dialect.Dialect {
	if maxParentKeys <= 0 {
		maxParentKeys = entry.MaxParentKeys
	}
	return &dialect.Dialect{
		Name:          "mysql",
		DriverName:    driverName,
		MaxParentKeys: maxParentKeys,
		Open:          openDB,

		SchemaProbeQuery: `SELECT count(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = 'kv_entries'`,

		SchemaCreateStatements: schemaStatements(maxParentKeys),

		UpsertEntry: upsertEntryStatement(maxParentKeys),

		ContainsEntry: `SELECT 1 FROM kv_entries WHERE partition = ? AND ` + "`key`" + ` = ? AND utcExpiry >= ? LIMIT 1`,

		CountAll:         `SELECT count(*) FROM kv_entries WHERE utcExpiry >= ?`,
		CountByPartition: `SELECT count(*) FROM kv_entries WHERE partition = ? AND utcExpiry >= ?`,

		CountAllIgnoreExpiry:         `SELECT count(*) FROM kv_entries`,
		CountByPartitionIgnoreExpiry: `SELECT count(*) FROM kv_entries WHERE partition = ?`,

		PeekEntry:       selectEntryStatement(maxParentKeys) + ` WHERE partition = ? AND ` + "`key`" + ` = ? AND utcExpiry >= ?`,
		PeekAll:         selectEntryStatement(maxParentKeys) + ` WHERE utcExpiry >= ?`,
		PeekByPartition: selectEntryStatement(maxParentKeys) + ` WHERE partition = ? AND utcExpiry >= ?`,

		GetEntry: selectEntryStatement(maxParentKeys) + ` WHERE partition = ? AND ` + "`key`" + ` = ? AND utcExpiry >= ?`,

		ExtendExpiry: `UPDATE kv_entries SET utcExpiry = ? WHERE hash = ? AND utcExpiry = ?`,

		GetAll:         selectEntryStatement(maxParentKeys) + ` WHERE utcExpiry >= ?`,
		GetByPartition: selectEntryStatement(maxParentKeys) + ` WHERE partition = ? AND utcExpiry >= ?`,

		DeleteEntry: `DELETE FROM kv_entries WHERE partition = ? AND ` + "`key`" + ` = ?`,

		DeleteExpired:            `DELETE FROM kv_entries WHERE utcExpiry < ?`,
		DeleteExpiredByPartition: `DELETE FROM kv_entries WHERE partition = ? AND utcExpiry < ?`,

		DeleteAll:             `DELETE FROM kv_entries`,
		DeleteAllByPartition: `DELETE FROM kv_entries WHERE partition = ?`,

		// No server-side VACUUM/size probe exposed through the SQL
		// protocol for this dialect; OPTIMIZE TABLE requires elevated
		// privileges many managed MySQL offerings deny, so it is left
		// unsupported here (spec.md §4.3 marks both "(optional)").
		Vacuum:         "",
		CacheSizeQuery: "",
	}
}

func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql: ping: %w", err)
	}
	return db, nil
}

func schemaStatements(maxParentKeys int) []string {
	var cols strings.Builder
	var fks strings.Builder
	var idx []string
	for i := 0; i < maxParentKeys; i++ {
		fmt.Fprintf(&cols, ",\n    parentHash%d BIGINT,\n    parentKey%d VARCHAR(255)", i, i)
		fmt.Fprintf(&fks, ",\n    FOREIGN KEY (partition, parentKey%d) REFERENCES kv_entries(partition, `key`) ON DELETE CASCADE", i)
		idx = append(idx, fmt.Sprintf(`CREATE INDEX idx_kv_parent%d ON kv_entries(partition, parentKey%d)`, i, i))
	}

	createEntries := fmt.Sprintf("CREATE TABLE IF NOT EXISTS kv_entries (\n"+
		"    hash BIGINT PRIMARY KEY,\n"+
		"    partition VARCHAR(255) NOT NULL,\n"+
		"    `key` VARCHAR(255) NOT NULL,\n"+
		"    utcCreation BIGINT NOT NULL,\n"+
		"    utcExpiry BIGINT NOT NULL,\n"+
		"    `interval` BIGINT NOT NULL DEFAULT 0,\n"+
		"    compressed TINYINT NOT NULL DEFAULT 0,\n"+
		"    value LONGBLOB%s,\n"+
		"    UNIQUE KEY uk_partition_key (partition, `key`)%s\n"+
		")", cols.String(), fks.String())

	stmts := []string{
		createEntries,
		`CREATE INDEX idx_kv_expiry ON kv_entries(utcExpiry)`,
	}
	stmts = append(stmts, idx...)
	return stmts
}

func parentColumnList(maxParentKeys int) string {
	var b strings.Builder
	for i := 0; i < maxParentKeys; i++ {
		fmt.Fprintf(&b, ", parentHash%d, parentKey%d", i, i)
	}
	return b.String()
}

func selectEntryStatement(maxParentKeys int) string {
	return "SELECT hash, partition, `key`, utcCreation, utcExpiry, `interval`, compressed, value" +
		parentColumnList(maxParentKeys) + ` FROM kv_entries`
}

func upsertEntryStatement(maxParentKeys int) string {
	var placeholders strings.Builder
	var updates strings.Builder
	for i := 0; i < maxParentKeys; i++ {
		fmt.Fprintf(&placeholders, ", ?, ?")
		fmt.Fprintf(&updates, ", parentHash%d = VALUES(parentHash%d), parentKey%d = VALUES(parentKey%d)", i, i, i, i)
	}
	return fmt.Sprintf("INSERT INTO kv_entries\n"+
		"    (hash, partition, `key`, utcCreation, utcExpiry, `interval`, compressed, value%s)\n"+
		"    VALUES (?, ?, ?, ?, ?, ?, ?, ?%s)\n"+
		"    ON DUPLICATE KEY UPDATE\n"+
		"        hash = VALUES(hash),\n"+
		"        utcCreation = VALUES(utcCreation),\n"+
		"        utcExpiry = VALUES(utcExpiry),\n"+
		"        `interval` = VALUES(`interval`),\n"+
		"        compressed = VALUES(compressed),\n"+
		"        value = VALUES(value)%s",
		parentColumnList(maxParentKeys), placeholders.String(), updates.String())
}
