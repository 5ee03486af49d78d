package table

import (
	"errors"
	"net/http"
)

type QueryError struct {
	msg    string
	status int
}

func NewQueryError(status int, msg string) *QueryError {
	return &QueryError{msg: msg, status: status}
}

func (e QueryError) Error() string { return e.msg }
func (e QueryError) Status() int   { return e.status }

var (
	ErrTableDeleted = NewQueryError(http.StatusGone, "Table already deleted")
	ErrNoIndex      = NewQueryError(http.StatusBadRequest, "Table has no index; cannot remove by key.")
)

// StatusOf maps err to a response status. Errors that carry no status are
// treated as bad input.
func StatusOf(err error) int {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Status()
	}
	return http.StatusBadRequest
}
