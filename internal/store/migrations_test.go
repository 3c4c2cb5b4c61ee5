package store

import (
	"regexp"
	"strings"
	"testing"
)

// Every column selected by jobColumns has to exist in the jobs table, or
// ClaimJob's RETURNING clause errors on every claim and jobs sit queued
// forever. This pins the SELECT list to the embedded schema.
func TestJobColumnsMatchMigration(t *testing.T) {
	content, err := migrationFiles.ReadFile("migrations/0001_jobs.sql")
	if err != nil {
		t.Fatalf("read jobs migration: %v", err)
	}
	sql := string(content)

	start := strings.Index(sql, "CREATE TABLE IF NOT EXISTS jobs")
	if start < 0 {
		t.Fatal("jobs table not found in migration")
	}
	end := strings.Index(sql[start:], ");")
	if end < 0 {
		t.Fatal("jobs table definition not terminated")
	}
	table := sql[start : start+end]

	for _, col := range strings.Split(jobColumns, ",") {
		col = strings.TrimSpace(col)
		defined := regexp.MustCompile(`(?m)^\s*` + regexp.QuoteMeta(col) + `\s`)
		if !defined.MatchString(table) {
			t.Errorf("column %q is selected but not defined in 0001_jobs.sql", col)
		}
	}
}
