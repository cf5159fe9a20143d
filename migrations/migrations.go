// Package migrations embeds the PostgreSQL schema.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed *.up.sql
var files embed.FS

// FS returns the embedded migration files, applied in lexical order.
func FS() fs.FS {
	return files
}
