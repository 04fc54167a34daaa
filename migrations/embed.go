// Package migrations embeds the SQL schema files into the binary so the
// service can migrate without the files present on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-ota/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

// Source returns the embedded migrations for database.Migrate.
func Source() database.Source {
	return database.Source{FS: files, Dir: "."}
}
