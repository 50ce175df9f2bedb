// Package pg bootstraps the PostgreSQL pool (pgx/v5) and applies embedded
// goose migrations. Config is populated from PG_* environment variables.
package pg
