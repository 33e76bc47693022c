// Package migrations compiles the historian's schema files into any
// binary (or test) that imports it, usually as a blank import:
//
//	import _ "github.com/mbaxter-dev/sparkhist/migrations"
//
// A deployed historian is a single executable plus its database file;
// the schema travels inside the executable.
package migrations

import (
	"embed"

	"github.com/mbaxter-dev/sparkhist/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

func init() {
	database.MigrationsFS = files
	database.MigrationsDir = "."
}
