// Package migrations holds the embedded SQL schema for the market database.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
