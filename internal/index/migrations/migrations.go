// Package migrations embeds the derived-index schema.
package migrations

import "embed"

// FS holds the SQL migrations applied on open.
//
//go:embed *.sql
var FS embed.FS
