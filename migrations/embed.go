// Package migrations embeds the SQL schema applied by cmd/migrate and tests.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
