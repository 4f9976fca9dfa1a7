// Package migrations embeds the SQLite schema for RelayBus Core.
//
// Importing this package (usually with a blank import from main or from a
// test) registers the files with the database package.
package migrations

import (
	"embed"

	"github.com/nerrad567/relaybus-core/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

func init() {
	database.RegisterMigrations(files, ".")
}
