package api

import (
	"fmt"
	"strings"

	validator "github.com/go-playground/validator/v10"
)

// Response is the envelope for status and error replies.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

const (
	statusOK    = "ok"
	statusError = "error"
)

func okResponse(msg string) Response {
	return Response{Status: statusOK, Message: msg}
}

func errResponse(msg string) Response {
	return Response{Status: statusError, Error: msg}
}

func validationError(errs validator.ValidationErrors) Response {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		switch e.ActualTag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("field %s is required", e.Field()))
		case "gte":
			msgs = append(msgs, fmt.Sprintf("field %s must be at least %s", e.Field(), e.Param()))
		case "min":
			msgs = append(msgs, fmt.Sprintf("field %s must be at least %s", e.Field(), e.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("field %s is not valid", e.Field()))
		}
	}
	return errResponse(strings.Join(msgs, ", "))
}
