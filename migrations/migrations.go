// Package migrations embeds the engine store schema migrations so deployments
// do not need the SQL files on disk next to the binary.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
