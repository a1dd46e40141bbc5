// Package migrations carries the intent store schema as embedded SQL files.
// The MySQL store applies them in lexical order at start-up, so files are
// named NNNN_description.sql and hold one statement each.
package migrations

import (
	"embed"
	"fmt"
	"sort"
	"strings"
)

//go:embed *.sql
var files embed.FS

// Statements returns the SQL of every migration in application order.
func Statements() ([]string, error) {
	entries, err := files.ReadDir(".")
	if err != nil {
		return nil, fmt.Errorf("read embedded migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	statements := make([]string, 0, len(names))
	for _, name := range names {
		content, err := files.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		statement := strings.TrimSpace(string(content))
		if statement == "" {
			return nil, fmt.Errorf("migration %s is empty", name)
		}
		statements = append(statements, statement)
	}
	return statements, nil
}
