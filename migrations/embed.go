// Package migrations embeds the SQL schema for each supported dialect
// and registers it with the database package.
package migrations

import (
	"embed"

	"github.com/nerrad567/homelink-core/internal/infrastructure/database"
)

//go:embed sqlite/*.sql postgres/*.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsRoot = "."
}
