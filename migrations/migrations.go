// Package migrations embeds the engine's SQL schema so the binary carries
// it regardless of working directory.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
