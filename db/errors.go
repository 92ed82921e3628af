package db

import (
	"strings"

	"github.com/teranos/weave/errors"
)

// ErrDatabaseClosed is returned when a write races shutdown.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed reports whether err means the connection is already closed.
// Driver errors are matched by message since they cannot be wrapped at the source.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}
