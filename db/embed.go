// Package db embeds the database schema.
package db

import _ "embed"

// Schema creates every table used by the payment service. Statements are
// idempotent so it runs on each start.
//
//go:embed migrations/001_schema.sql
var Schema string
