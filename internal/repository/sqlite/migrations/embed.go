package migrations

import "embed"

// FS contains embedded SQLite migrations for the loan store.
//
//go:embed *.sql
var FS embed.FS
