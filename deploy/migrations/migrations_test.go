package migrations

import (
	"strings"
	"testing"
)

func TestStatementsAreOrderedAndNonEmpty(t *testing.T) {
	statements, err := Statements()
	if err != nil {
		t.Fatalf("statements: %v", err)
	}
	if len(statements) == 0 {
		t.Fatal("expected at least one migration")
	}
	for i, statement := range statements {
		if strings.TrimSpace(statement) == "" {
			t.Fatalf("migration %d is empty", i)
		}
	}
	if !strings.Contains(statements[0], "intent_records") {
		t.Fatalf("first migration must create the intent table, got %q", statements[0])
	}
	if !strings.Contains(statements[0], "IF NOT EXISTS") {
		t.Fatal("migrations must be idempotent for start-up application")
	}
}
