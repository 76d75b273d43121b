// Package database provides SQL connectivity for HomeLink Core.
//
// Two engines are supported behind one DB wrapper:
//   - SQLite (mattn/go-sqlite3): single writer, WAL mode, busy timeout
//   - PostgreSQL (jackc/pgx stdlib driver): pooled connections
//
// Queries are written with ? placeholders; DB.Rebind converts them for
// PostgreSQL. IsUniqueViolation recognises duplicate-key errors from both
// drivers so stores can map them onto their own sentinel errors.
//
// Migrations live in the top-level migrations package, one directory per
// dialect, named YYYYMMDD_HHMMSS_description.{up,down}.sql and tracked in
// a schema_migrations table.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
