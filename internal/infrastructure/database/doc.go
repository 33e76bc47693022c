// Package database opens and migrates the historian's SQLite file.
//
// The historian is write-heavy: every committed batch appends device,
// definition and value rows in one transaction. The connection is tuned
// for that shape:
//   - WAL journal mode, so API reads proceed while a batch commits
//   - a single writer connection (SetMaxOpenConns(1)), matching
//     SQLite's one-writer model and avoiding SQLITE_BUSY churn
//   - a busy timeout instead of immediate lock errors
//   - foreign keys enforced, so a value row cannot outlive its
//     metric definition
//
// The database file is created with 0600 permissions. All statements
// in the store layer are parameterised.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations live in the top-level migrations/ directory as paired
// YYYYMMDD_HHMMSS_description.{up,down}.sql files and are embedded into
// the binary. History tables are append-only, so migrations stay
// additive: new columns are nullable or carry defaults, and nothing is
// dropped or renamed once released.
package database
