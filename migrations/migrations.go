// Package migrations embeds the SQL schema migrations so they can be applied
// from any binary or test without a filesystem path.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
