package core

import (
	"strings"
)

const previewLen = 70

// ConnectionLabel joins the hierarchy names the way connection pickers show them
func ConnectionLabel(category, group, name string) string {
	return category + " -> " + group + " -> " + name
}

// ShortQuery collapses whitespace and truncates a query for list views
func ShortQuery(q string) string {
	// Collapse newlines and runs of spaces
	s := strings.Join(strings.Fields(q), " ")

	if len(s) > previewLen {
		return s[:previewLen] + "..."
	}
	return s
}
