// Package migrations embeds the goose schema for the review service.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
