package http

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report the name the client used: query, then path param, then json.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"query", "param", "json"} {
			if name := strings.Split(f.Tag.Get(tag), ",")[0]; name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})
	return v
}

// Validate checks a struct outside of a request, e.g. a WebSocket frame.
func Validate(v interface{}) []Problem {
	if err := validate.Struct(v); err != nil {
		return problems(err)
	}
	return nil
}

// Bind fills req from path and query params, applies `default` tags, then validates.
// Zero values count as unset, so limit=0 gets the default.
func Bind(c echo.Context, req interface{}) []Problem {
	if err := c.Bind(req); err != nil {
		return problems(err)
	}
	if err := defaults.Set(req); err != nil {
		return problems(err)
	}
	if err := validate.StructCtx(c.Request().Context(), req); err != nil {
		return problems(err)
	}
	return nil
}

func problems(err error) []Problem {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		out := make([]Problem, 0, len(verrs))
		for _, fe := range verrs {
			out = append(out, Problem{
				Code:    "ERR_" + strings.ToUpper(fe.Tag()),
				Field:   fe.Field(),
				Message: describe(fe),
				Params:  params(fe),
			})
		}
		return out
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		return []Problem{{Code: CodeBind, Message: fmt.Sprint(he.Message)}}
	}
	return []Problem{{Code: CodeBind, Message: err.Error()}}
}

var tagPhrases = map[string]string{
	"gt":  "greater than",
	"gte": "greater than or equal to",
	"lt":  "less than",
	"lte": "less than or equal to",
}

func describe(fe validator.FieldError) string {
	field, param := fe.Field(), fe.Param()
	switch tag := fe.Tag(); tag {
	case "required":
		return field + " is required"
	case "min", "max":
		bound := "at least"
		if tag == "max" {
			bound = "at most"
		}
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be %s %s characters", field, bound, param)
		}
		return fmt.Sprintf("%s must be %s %s", field, bound, param)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(param, " ", ", "))
	default:
		if phrase, ok := tagPhrases[tag]; ok {
			return fmt.Sprintf("%s must be %s %s", field, phrase, param)
		}
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}

func params(fe validator.FieldError) map[string]interface{} {
	switch fe.Tag() {
	case "min", "gte":
		return map[string]interface{}{"min": fe.Param()}
	case "max", "lte":
		return map[string]interface{}{"max": fe.Param()}
	case "gt", "lt":
		return map[string]interface{}{"value": fe.Param()}
	case "oneof":
		return map[string]interface{}{"options": strings.Fields(fe.Param())}
	}
	return nil
}
