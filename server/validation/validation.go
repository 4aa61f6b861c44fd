// Package validation checks decoded request bodies with go-playground
// validator and counts prompt tokens with tiktoken.
package validation

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message LooseString `json:"message" validate:"required,notblank"`
}

// TextRequest is the body of POST /api/sentiment/text.
type TextRequest struct {
	Text LooseString `json:"text" validate:"required,notblank"`
}

// LooseString accepts any JSON scalar. Numbers and booleans keep their
// literal text, null and structured values decode as empty.
type LooseString string

// UnmarshalJSON implements json.Unmarshaler.
func (s *LooseString) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		*s = LooseString(val)
	case float64, bool:
		*s = LooseString(strings.TrimSpace(string(data)))
	default:
		*s = ""
	}
	return nil
}

// String returns the value with surrounding whitespace removed.
func (s LooseString) String() string {
	return strings.TrimSpace(string(s))
}

// FieldError describes one failed rule.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// Error is returned by Validator.Struct when a value breaks its rules.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+":"+f.Rule)
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// Details renders the failed rules for an error response body.
func (e *Error) Details() map[string]interface{} {
	fields := make(map[string]interface{}, len(e.Fields))
	for _, f := range e.Fields {
		fields[f.Field] = f.Rule
	}
	return map[string]interface{}{"fields": fields}
}

// Validator validates request structs. Field names in errors follow the
// json tags.
type Validator struct {
	validate *validator.Validate
}

// New creates a Validator with the notblank rule registered.
func New() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// notblank rejects strings made only of whitespace.
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return &Validator{validate: v}
}

// Struct validates s and returns an *Error describing every failed rule.
func (v *Validator) Struct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("validate: %w", err)
	}
	out := &Error{}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{Field: fe.Field(), Rule: fe.Tag()})
	}
	return out
}

// DecodeJSON reads a JSON object from r into dst. A missing or malformed
// body leaves dst at its zero value, so the field rules report it the same
// way as an empty field. Only a body that cannot be read is an error.
func DecodeJSON(r *http.Request, limit int64, dst interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, limit))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}

	// Decode into a scratch value so a type mismatch on one field does not
	// leave dst half filled.
	scratch := reflect.New(reflect.TypeOf(dst).Elem())
	if err := json.Unmarshal(body, scratch.Interface()); err != nil {
		return nil
	}
	reflect.ValueOf(dst).Elem().Set(scratch.Elem())
	return nil
}
