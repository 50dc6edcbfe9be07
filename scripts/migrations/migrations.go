// Package migrations embeds the goose SQL migrations so the migrate command
// ships them inside the binary.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
