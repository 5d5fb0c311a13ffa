package migrations

import "embed"

//go:embed game/*.sql
var GameFS embed.FS
