// Package migrations embeds the SQL schema migrations applied at startup and by the migrate command.
package migrations

import "embed"

// FS holds the embedded SQL migration files.
//
//go:embed *.sql
var FS embed.FS
