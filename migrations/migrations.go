// Package migrations embeds the SQL migration files applied by
// internal/storage.Migrator, mirroring the teacher's own embedded
// migrations.FS used by its test harness.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
