// Package httpx holds the JSON request/response plumbing shared by the API handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/festalink/backend/internal/apperr"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("future", futureTime)
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// futureTime rejects time.Time values that are not after now.
var futureTime validator.Func = func(fl validator.FieldLevel) bool {
	t, ok := fl.Field().Interface().(time.Time)
	if !ok {
		return false
	}
	return t.After(time.Now())
}

// Validate runs struct tag validation and returns an apperr.ErrValidation describing the first failures.
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, describe(fe))
			}
			return fmt.Errorf("%w: %s", apperr.ErrValidation, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return fe.Field() + " is required"
	case "future":
		return fe.Field() + " must be in the future"
	case "oneof":
		return fe.Field() + " must be one of " + fe.Param()
	case "gt":
		return fe.Field() + " must be greater than " + fe.Param()
	case "gte", "min":
		return fe.Field() + " must be at least " + fe.Param()
	case "lt":
		return fe.Field() + " must be less than " + fe.Param()
	case "lte", "max":
		return fe.Field() + " must be at most " + fe.Param()
	default:
		return fe.Field() + " is invalid"
	}
}

// Decode reads a JSON body into dst and validates it.
func Decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", apperr.ErrValidation)
		}
		return fmt.Errorf("%w: invalid JSON", apperr.ErrValidation)
	}
	return Validate(dst)
}

// PathUUID parses the named path wildcard as a UUID.
func PathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s", apperr.ErrValidation, name)
	}
	return id, nil
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

type errorBody struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

// WriteError maps err through apperr.Status. Unclassified errors are logged; their text never reaches the client.
func WriteError(w http.ResponseWriter, log *slog.Logger, err error) {
	status, msg := apperr.Status(err)
	if status >= http.StatusInternalServerError && log != nil {
		log.Error("request failed", "status", status, "error", err)
	}
	WriteJSON(w, status, errorBody{Error: msg, Retryable: apperr.Retryable(err)})
}
