// Package migrations embeds the bridge's SQL schema files and registers
// them with the database package. Import it for side effects.
package migrations

import (
	"embed"

	"github.com/nerrad567/growcube-bridge/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

func init() {
	database.RegisterMigrations(files)
}
