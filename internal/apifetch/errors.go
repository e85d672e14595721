package apifetch

import (
	"errors"
	"fmt"
	"net/http"
)

// CodeFetchError is the code of failures that never reached the server or
// returned an undecodable error body.
const CodeFetchError = "fetch_error"

// Error is a failed network operation: {code, message, data: {status}}.
type Error struct {
	Code    string    `json:"code"`
	Message string    `json:"message"`
	Data    ErrorData `json:"data"`
}

// ErrorData carries the HTTP status of a failure. Status is 0 when the
// request never produced a response.
type ErrorData struct {
	Status int `json:"status"`
}

func (e *Error) Error() string {
	if e.Data.Status != 0 {
		return fmt.Sprintf("%s (%s, status %d)", e.Message, e.Code, e.Data.Status)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// ErrorCode returns Code. Error records copy it.
func (e *Error) ErrorCode() string { return e.Code }

// ErrorMessage returns Message.
func (e *Error) ErrorMessage() string { return e.Message }

// ErrorData returns Data as a generic map.
func (e *Error) ErrorData() map[string]any {
	return map[string]any{"status": e.Data.Status}
}

// IsNotFound reports whether err is a 404 failure. Controls may treat it
// as a valid "no data" result.
func IsNotFound(err error) bool {
	return StatusOf(err) == http.StatusNotFound
}

// StatusOf returns the HTTP status of an *Error in err's chain, or 0.
func StatusOf(err error) int {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Data.Status
	}
	return 0
}

func transportError(err error) *Error {
	return &Error{Code: CodeFetchError, Message: err.Error()}
}
