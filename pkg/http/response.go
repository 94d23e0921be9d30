package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Envelope wraps every error body: {"status":422,"message":"...","data":[{"code":...}]}.
type Envelope struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// OK writes data as-is with 200; market responses carry their own envelope fields.
func OK(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, data)
}

// Fail writes err as an error envelope. Anything that is not an *AppError becomes a 500.
func Fail(c echo.Context, err error) error {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		appErr = Internal(err)
	}
	return c.JSON(appErr.Status, Envelope{
		Status:  appErr.Status,
		Message: appErr.Message,
		Data:    []Problem{appErr.Problem},
	})
}

// Invalid writes a 422 listing every problem; the message is the first one's.
func Invalid(c echo.Context, problems []Problem) error {
	msg := http.StatusText(http.StatusUnprocessableEntity)
	if len(problems) > 0 {
		msg = problems[0].Message
	}
	return c.JSON(http.StatusUnprocessableEntity, Envelope{
		Status:  http.StatusUnprocessableEntity,
		Message: msg,
		Data:    problems,
	})
}
