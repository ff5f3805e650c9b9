package core

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	leadingNoise = regexp.MustCompile(`^(?s)(\s+|--[^\n]*\n?|/\*.*?\*/|\()+`)
	firstWord    = regexp.MustCompile(`^[A-Za-z]+`)
)

// Statements starting with these keywords produce a result set.
var rowReturning = map[string]bool{
	"SELECT":   true,
	"WITH":     true,
	"PRAGMA":   true,
	"SHOW":     true,
	"EXPLAIN":  true,
	"VALUES":   true,
	"DESCRIBE": true,
	"DESC":     true,
	"TABLE":    true,
}

// ValidateStatement is the only syntactic check done before dispatch: the text
// must be non-empty and end with a statement terminator.
func ValidateStatement(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return &ValidationError{Reason: "query is empty"}
	}
	if !strings.HasSuffix(trimmed, ";") {
		return &ValidationError{Reason: "query must end with a semicolon (;)"}
	}
	return nil
}

// IsSelect reports whether the statement is expected to return rows.
func IsSelect(text string) bool {
	s := leadingNoise.ReplaceAllString(text, "")
	word := firstWord.FindString(s)
	return rowReturning[strings.ToUpper(word)]
}

// TableOrder selects which end of a table a TableQuery reads from.
type TableOrder string

const (
	OrderNone TableOrder = ""
	OrderAsc  TableOrder = "asc"
	OrderDesc TableOrder = "desc"
)

// TableQuery builds the "query all rows / preview / last rows" statement for a
// table. limit <= 0 means no limit.
func TableQuery(driver, schema, table string, limit int, order TableOrder) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	if limit > 0 && driver == "sqlserver" {
		fmt.Fprintf(&b, "TOP %d ", limit)
	}
	b.WriteString("* FROM ")
	b.WriteString(quoteTable(driver, schema, table))
	if order != OrderNone {
		b.WriteString(" ORDER BY 1 ")
		b.WriteString(strings.ToUpper(string(order)))
	}
	if limit > 0 && driver != "sqlserver" {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	b.WriteString(";")
	return b.String()
}

func quoteTable(driver, schema, table string) string {
	quote := func(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` }
	switch driver {
	case "mysql":
		quote = func(s string) string { return "`" + strings.ReplaceAll(s, "`", "``") + "`" }
	case "sqlserver":
		quote = func(s string) string { return "[" + strings.ReplaceAll(s, "]", "]]") + "]" }
	}
	if schema == "" {
		return quote(table)
	}
	return quote(schema) + "." + quote(table)
}
