package db

import "embed"

// EmbedMigrations holds the SQL migrations applied by RunMigrations.
//
//go:embed migrations/*.sql
var EmbedMigrations embed.FS
