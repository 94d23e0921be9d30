package http

import (
	"fmt"
	"net/http"
)

// Codes carried in data[].code of error envelopes.
const (
	CodeNotFound  = "ERR_NOT_FOUND"
	CodeInternal  = "ERR_INTERNAL"
	CodeBind      = "ERR_BIND"
	CodeRequired  = "ERR_REQUIRED"
	CodeSymbol    = "ERR_SYMBOL"
	CodeTimeframe = "ERR_TIMEFRAME"
	CodeTimeRange = "ERR_TIME_RANGE"
)

// Problem is one entry of an error envelope's data list.
type Problem struct {
	Code    string                 `json:"code"`
	Field   string                 `json:"field,omitempty"`
	Message string                 `json:"message"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// AppError is a Problem with the HTTP status it maps to.
type AppError struct {
	Status int
	Problem
	Err error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// WithError attaches the cause for logs; it never reaches the client.
func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// NotFoundf is a 404 with a formatted message.
func NotFoundf(format string, a ...interface{}) *AppError {
	return &AppError{Status: http.StatusNotFound, Problem: Problem{Code: CodeNotFound, Message: fmt.Sprintf(format, a...)}}
}

// Unprocessable is a 422 for a well-formed request with a bad value.
func Unprocessable(code, field, message string) *AppError {
	return &AppError{Status: http.StatusUnprocessableEntity, Problem: Problem{Code: code, Field: field, Message: message}}
}

// Internal is a 500 with a fixed message; err is kept for logging.
func Internal(err error) *AppError {
	return &AppError{
		Status:  http.StatusInternalServerError,
		Problem: Problem{Code: CodeInternal, Message: "Internal server error"},
		Err:     err,
	}
}
