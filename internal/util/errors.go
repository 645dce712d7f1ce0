package util

import (
	"errors"
	"fmt"
	"net/http"
)

// ResponseError is a business error that already knows its HTTP status and
// whose message is safe to show to the caller.
type ResponseError struct {
	Msg    string
	Status int
}

func (e ResponseError) Error() string { return e.Msg }

func NewResponseError(status int, format string, args ...interface{}) error {
	return ResponseError{
		Msg:    fmt.Sprintf(format, args...),
		Status: status,
	}
}

func BadRequest(format string, args ...interface{}) error {
	return NewResponseError(http.StatusBadRequest, format, args...)
}

func NotFound(format string, args ...interface{}) error {
	return NewResponseError(http.StatusNotFound, format, args...)
}

func Conflict(format string, args ...interface{}) error {
	return NewResponseError(http.StatusConflict, format, args...)
}

// AsResponseError unwraps err into a ResponseError when it carries one.
func AsResponseError(err error) (ResponseError, bool) {
	var re ResponseError
	if errors.As(err, &re) {
		return re, true
	}
	return ResponseError{}, false
}
