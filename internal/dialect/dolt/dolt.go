//go:build cgo

// Package dolt renders a second, version-controlled embedded engine
// option (spec.md §4.3 "a file-embedded engine", supplemented per
// SPEC_FULL.md §D.4) on top of github.com/dolthub/driver, directly
// adapted from the teacher's internal/storage/dolt/store_embedded.go.
// Dolt speaks the MySQL wire protocol, so its SQL statements are
// identical to internal/dialect/mysql's; only the DSN/open path and the
// advisory-lock-guarded first-open sequence differ.
package dolt

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	embedded "github.com/dolthub/driver"

	"github.com/ilkerhalil/kvlite/internal/dialect"
	kvmysql "github.com/ilkerhalil/kvlite/internal/dialect/mysql"
	"github.com/ilkerhalil/kvlite/internal/entry"
	"github.com/ilkerhalil/kvlite/internal/lockfile"
)

const embeddedOpenMaxElapsed = 30 * time.Second

// Config holds the parameters for an embedded Dolt directory.
//
// Settings.MaxCacheSizeMB / MaxJournalSizeMB (spec.md §4.7) have no
// counterpart here: Dolt's storage engine is a content-addressed,
// versioned store (Noms-style chunk store), not SQLite's paged
// file plus rollback/WAL journal, so there is no page-cache or
// journal-size knob on the embedded.Config DSN to map them onto.
type Config struct {
	Path           string // directory holding the Dolt repository
	Database       string // database name within the Dolt server (default "kvlite")
	CommitterName  string
	CommitterEmail string
}

func applyDefaults(cfg *Config) {
	if cfg.Database == "" {
		cfg.Database = "kvlite"
	}
	if cfg.CommitterName == "" {
		cfg.CommitterName = "kvlite"
	}
	if cfg.CommitterEmail == "" {
		cfg.CommitterEmail = "kvlite@localhost"
	}
}

// New returns the Dialect for the embedded Dolt backend. Its SQL surface
// is borrowed verbatim from internal/dialect/mysql since Dolt speaks the
// same wire protocol and dialect of SQL.
func New(cfg Config, maxParentKeys int) *dialect.Dialect {
	applyDefaults(&cfg)
	if maxParentKeys <= 0 {
		maxParentKeys = entry.MaxParentKeys
	}

	d := *kvmysql.New(maxParentKeys)
	d.Name = "dolt"
	d.DriverName = "kvlite-dolt-embedded"
	d.Open = func(ctx context.Context, _ string) (*sql.DB, error) {
		return openEmbedded(ctx, cfg)
	}
	return &d
}

func newOpenBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = embeddedOpenMaxElapsed
	return bo
}

// openEmbedded brings up the embedded Dolt engine at cfg.Path, guarded
// by an advisory file lock so two processes opening the same repository
// for the first time don't race on schema bootstrap (internal/lockfile,
// adapted from the teacher's AccessLock).
func openEmbedded(ctx context.Context, cfg Config) (*sql.DB, error) {
	if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
		return nil, fmt.Errorf("dolt: create directory: %w", err)
	}
	absPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("dolt: resolve path: %w", err)
	}

	lockPath := filepath.Join(absPath, ".kvlite-bootstrap.lock")
	lf, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("dolt: open lock file: %w", err)
	}
	defer lf.Close()
	if err := lockfile.ExclusiveBlocking(lf); err != nil {
		return nil, fmt.Errorf("dolt: acquire bootstrap lock: %w", err)
	}
	defer lockfile.Unlock(lf)

	initDSN := fmt.Sprintf("file://%s?commitname=%s&commitemail=%s", absPath, cfg.CommitterName, cfg.CommitterEmail)
	dbDSN := fmt.Sprintf("file://%s?commitname=%s&commitemail=%s&database=%s",
		absPath, cfg.CommitterName, cfg.CommitterEmail, cfg.Database)

	configureRetries := func(c *embedded.Config) {
		c.BackOff = newOpenBackoff()
	}

	if err := withEmbedded(ctx, initDSN, configureRetries, func(ctx context.Context, db *sql.DB) error {
		_, err := db.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", cfg.Database))
		return err
	}); err != nil {
		return nil, fmt.Errorf("dolt: create database: %w", err)
	}

	openCfg, err := embedded.ParseDSN(dbDSN)
	if err != nil {
		return nil, fmt.Errorf("dolt: parse dsn: %w", err)
	}
	openCfg.BackOff = newOpenBackoff()

	connector, err := embedded.NewConnector(openCfg)
	if err != nil {
		return nil, fmt.Errorf("dolt: open connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(1) // embedded Dolt is single-writer
	db.SetMaxIdleConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("dolt: ping: %w", err)
	}
	return db, nil
}

// withEmbedded runs exactly one unit of work against a short-lived
// embedded connector, closing both the db and connector afterward
// (dolthub/driver requires both to release filesystem locks). Adapted
// from the teacher's withEmbeddedDolt.
func withEmbedded(ctx context.Context, dsn string, configure func(*embedded.Config), fn func(context.Context, *sql.DB) error) (err error) {
	cfg, err := embedded.ParseDSN(dsn)
	if err != nil {
		return fmt.Errorf("parse dsn: %w", err)
	}
	if configure != nil {
		configure(&cfg)
	}
	connector, err := embedded.NewConnector(cfg)
	if err != nil {
		return fmt.Errorf("new connector: %w", err)
	}
	db := sql.OpenDB(connector)
	defer func() {
		closeErr := db.Close()
		if err == nil {
			err = closeErr
		}
	}()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return fn(ctx, db)
}
