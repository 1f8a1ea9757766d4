// Package migrations embeds the engine's SQL schema migrations so the binary
// can apply them without a migrations directory on disk.
package migrations

import "embed"

// FS holds every *.sql migration in this directory.
//
//go:embed *.sql
var FS embed.FS
