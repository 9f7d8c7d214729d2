// Package repository holds the MySQL data access of both services.  The
// sentinel values below let handlers tell failure scenarios apart: for
// example ErrConflict means a uniqueness rule would be broken, while
// ErrTicketClosed means a closed ticket was asked to change again.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrConflict is returned when an insert would violate a unique key,
// such as creating a second level with the same level number.  Handlers
// should translate this into an HTTP 409 response.
var ErrConflict = errors.New("conflict")

// ErrLevelNotFound is returned when a level lookup fails.
var ErrLevelNotFound = errors.New("level not found")

// ErrTicketNotFound is returned when a ticket lookup fails.
var ErrTicketNotFound = errors.New("ticket not found")

// ErrTicketClosed is returned when closing a ticket that already has an
// exit time.  Closed tickets are never mutated.
var ErrTicketClosed = errors.New("ticket already closed")

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

// isDuplicate reports whether err is a unique key violation.
func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
