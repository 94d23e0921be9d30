package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	xhttp "OhlcvAPI/pkg/http"
)

var (
	ErrConnection = errors.New("ohlcv api: connection failed")
	ErrNotFound   = errors.New("ohlcv api: exchange or symbol not found")
	ErrTimeframe  = errors.New("ohlcv api: invalid timeframe")
	ErrDecode     = errors.New("ohlcv api: cannot decode response")
)

// APIError is a non-2xx response or an error frame from the live stream.
// errors.Is matches ErrNotFound and ErrTimeframe where they apply.
type APIError struct {
	Status  int
	Code    string
	Message string

	body []byte
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("ohlcv api: %s", e.Message)
	}
	return fmt.Sprintf("ohlcv api: %d %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch {
	case e.Status == http.StatusNotFound:
		return ErrNotFound
	case e.Code == "ERR_TIMEFRAME":
		return ErrTimeframe
	}
	return nil
}

type errorBody struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Data    []struct {
		Code string `json:"code"`
	} `json:"data"`
}

// translate maps transport failures onto the package errors.
func translate(err error) error {
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		return apiError(se)
	}
	var syn *json.SyntaxError
	var typ *json.UnmarshalTypeError
	if errors.As(err, &syn) || errors.As(err, &typ) {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return fmt.Errorf("%w: %v", ErrConnection, err)
}

func apiError(se *xhttp.StatusError) *APIError {
	out := &APIError{Status: se.Code, Message: http.StatusText(se.Code), body: se.Body}
	var body errorBody
	if json.Unmarshal(se.Body, &body) == nil {
		if body.Message != "" {
			out.Message = body.Message
		}
		if len(body.Data) > 0 {
			out.Code = body.Data[0].Code
		}
	}
	return out
}
