// Package database provides SQLite connectivity and schema migrations for
// Gray Logic OTA.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Versioned up/down migrations read from any fs.FS
//   - Connection pool sizing for SQLite's single writer
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.Source()); err != nil {
//	    log.Fatal(err)
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with a
// matching .down.sql. New columns must be nullable or carry a default so a
// rollback of the binary keeps working against a migrated database.
package database
