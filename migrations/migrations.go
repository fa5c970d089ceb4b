// Package migrations embeds the Postgres schema for the vault event log.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
