// Package migrations holds the goose SQL migrations for the order database.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
