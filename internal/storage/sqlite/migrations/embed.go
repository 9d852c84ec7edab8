package migrations

import "embed"

// FS holds the account store schema.
//
//go:embed *.sql
var FS embed.FS
