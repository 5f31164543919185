// Package assets embeds the database migrations shipped with the binary.
package assets

import "embed"

const (
	SqliteMigrationDir = "migrations/sqlite"
)

//go:embed migrations/*
var EmbedMigrations embed.FS
