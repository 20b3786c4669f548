package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecute_InvalidConfiguration(t *testing.T) {
	assert.Equal(t, 2, execute([]string{"-driver=bogus"}))
	assert.Equal(t, 2, execute([]string{"-driver=postgres", "-database-url="}))
}

func TestExecute_StoreFailureReturnsError(t *testing.T) {
	// GIVEN: A SQLite path whose directory does not exist
	path := filepath.Join(t.TempDir(), "missing", "ledger.db")

	// WHEN: The server starts
	code := execute([]string{"-driver=sqlite", "-db=" + path, "-log-level=error"})

	// THEN: It reports failure through the exit code instead of exiting
	assert.Equal(t, 1, code)
}
