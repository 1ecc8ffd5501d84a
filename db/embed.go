// Package db embeds the SQL schema applied at startup.
package db

import _ "embed"

// Schema holds the DDL for the catalog, deal cache, search history, and
// API key tables. Statements are idempotent so the schema can be applied
// on every boot.
//
//go:embed migrations/001_schema.sql
var Schema string
