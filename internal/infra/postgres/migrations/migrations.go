package migrations

import (
	_ "embed"

	"github.com/uptrace/bun/migrate"
)

//go:embed 0001_create_catalog.sql
var createCatalogSQL string

//go:embed 0002_create_results.sql
var createResultsSQL string

var Migrations = migrate.NewMigrations()
