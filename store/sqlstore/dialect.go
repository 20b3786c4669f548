package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"strconv"
	"strings"

	"github.com/pressly/goose/v3"
)

// Dialect captures what differs between the SQL databases the ledger runs on.
// Queries are written once with '?' placeholders.
type Dialect interface {
	// Name is the database/sql driver name.
	Name() string

	// Goose selects the migration dialect.
	Goose() goose.Dialect

	// Migrations holds the versioned goose migrations at its root.
	Migrations() fs.FS

	// Rebind rewrites '?' placeholders into the driver's syntax.
	Rebind(query string) string

	// LockStudent serializes writers for one student for the rest of tx.
	LockStudent(ctx context.Context, tx *sql.Tx, studentID string) error

	// Classify maps driver errors onto ErrUniqueViolation and
	// ledger.ErrConcurrencyConflict. Other errors pass through.
	Classify(err error) error
}

// ErrUniqueViolation is what Classify reports for a unique index rejection.
var ErrUniqueViolation = errors.New("unique constraint violated")

// RebindDollar turns '?' placeholders into $1, $2, ...
func RebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
