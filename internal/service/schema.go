package service

import (
	"context"
	"fmt"
	"strings"

	"querydeck/internal/core"
)

// SchemaBrowser lists the tables of a connection.
type SchemaBrowser struct {
	exec core.Executor
}

func NewSchemaBrowser(exec core.Executor) *SchemaBrowser {
	return &SchemaBrowser{exec: exec}
}

func tableListing(driver string) (string, error) {
	switch driver {
	case "sqlite":
		return `SELECT '' AS table_schema, name, type FROM sqlite_master
			WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%' ORDER BY name;`, nil
	case "postgres", "pgx":
		return `SELECT table_schema, table_name, table_type FROM information_schema.tables
			WHERE table_schema NOT IN ('pg_catalog', 'information_schema') ORDER BY table_schema, table_name;`, nil
	case "mysql":
		return `SELECT table_schema, table_name, table_type FROM information_schema.tables
			WHERE table_schema = DATABASE() ORDER BY table_name;`, nil
	case "sqlserver", "odbc":
		return `SELECT TABLE_SCHEMA, TABLE_NAME, TABLE_TYPE FROM INFORMATION_SCHEMA.TABLES
			ORDER BY TABLE_SCHEMA, TABLE_NAME;`, nil
	default:
		return "", fmt.Errorf("unsupported driver %q", driver)
	}
}

func (b *SchemaBrowser) Tables(ctx context.Context, conn core.ConnectionDescriptor) ([]core.Table, error) {
	query, err := tableListing(conn.Driver)
	if err != nil {
		return nil, err
	}
	res, err := b.exec.Execute(ctx, conn, query)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	tables := make([]core.Table, 0, len(res.Rows))
	for _, row := range res.Rows {
		if len(row) < 3 {
			continue
		}
		tables = append(tables, core.Table{
			Schema: cell(row[0]),
			Name:   cell(row[1]),
			Type:   tableType(cell(row[2])),
		})
	}
	return tables, nil
}

func cell(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func tableType(t string) string {
	switch t = strings.ToLower(t); t {
	case "base table":
		return "table"
	default:
		return t
	}
}
