package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/strefethen/hotel-hub-go/internal/apperrors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// DecodeJSON decodes the request body into dst and runs struct validation.
// Both malformed JSON and failed validation become 400 validation errors.
func DecodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return apperrors.NewValidationError("request body is required", nil)
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.NewValidationError("request body is required", nil)
		}
		return apperrors.NewValidationError("invalid request body", nil)
	}
	return Validate(dst)
}

// Validate runs struct-tag validation on v.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return apperrors.NewValidationError("invalid request body", nil)
	}

	fields := make(map[string]any, len(validationErrors))
	messages := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		name := jsonFieldName(fieldErr)
		fields[name] = fieldErr.Tag()
		messages = append(messages, describe(name, fieldErr))
	}

	return apperrors.NewValidationError(strings.Join(messages, "; "), map[string]any{"fields": fields})
}

func describe(name string, fieldErr validator.FieldError) string {
	switch fieldErr.Tag() {
	case "required", "required_without":
		return name + " is required"
	case "oneof":
		return name + " must be one of: " + strings.ReplaceAll(fieldErr.Param(), " ", ", ")
	default:
		return name + " is invalid"
	}
}

func jsonFieldName(fieldErr validator.FieldError) string {
	return toSnake(fieldErr.Field())
}

// toSnake converts Go field names such as DeviceID into device_id.
func toSnake(name string) string {
	var b strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		isUpper := r >= 'A' && r <= 'Z'
		if isUpper && i > 0 {
			prevLower := runes[i-1] >= 'a' && runes[i-1] <= 'z'
			nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
			if prevLower || nextLower {
				b.WriteByte('_')
			}
		}
		if isUpper {
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
