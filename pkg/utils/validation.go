package utils

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ParseAndValidate decodes the JSON body into v and checks its validate tags.
func ParseAndValidate(r *http.Request, v interface{}) error {
	if err := ParseJSONBody(r, v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return validate.Struct(v)
}

// ValidateVar checks a single value against a validate tag, e.g. "uuid".
func ValidateVar(value interface{}, tag string) error {
	return validate.Var(value, tag)
}

// DescribeValidationError turns validator errors into "field: rule" pairs.
func DescribeValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		parts = append(parts, fmt.Sprintf("%s: %s", fe.Field(), rule))
	}
	return strings.Join(parts, ", ")
}

// WriteRequestError reports a ParseAndValidate failure.
func WriteRequestError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		WriteValidationErrorResponse(w, "Request validation failed", DescribeValidationError(err))
		return
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		WriteErrorResponseWithCode(w, http.StatusRequestEntityTooLarge, "REQUEST_TOO_LARGE", "Request body too large", "")
		return
	}
	WriteBadRequestResponse(w, err.Error())
}
