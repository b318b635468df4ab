// Package migrations embeds the per-driver schema migrations applied by
// golang-migrate at store startup.
package migrations

import "embed"

//go:embed sqlite/*.sql
var SQLite embed.FS

//go:embed postgres/*.sql
var Postgres embed.FS
