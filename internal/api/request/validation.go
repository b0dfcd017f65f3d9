package request

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/edvin/sslshop/internal/faults"
)

var validate = validator.New()

const maxBodyBytes = 1 << 20

func init() {
	// pem checks for an armored block; the lifecycle parses it fully.
	validate.RegisterValidation("pem", func(fl validator.FieldLevel) bool {
		return strings.HasPrefix(strings.TrimSpace(fl.Field().String()), "-----BEGIN ")
	})
}

// Decode reads a JSON body into v and validates it. Errors wrap
// faults.ErrValidation.
func Decode(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", faults.ErrValidation, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", faults.ErrValidation, err)
	}
	return nil
}

// RequireID returns s, or a validation error when it is empty.
func RequireID(s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("%w: missing required ID", faults.ErrValidation)
	}
	return s, nil
}

// RequireQuery returns a required query parameter.
func RequireQuery(r *http.Request, name string) (string, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return "", fmt.Errorf("%w: missing required query parameter %s", faults.ErrValidation, name)
	}
	return v, nil
}
