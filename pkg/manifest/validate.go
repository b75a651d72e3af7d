package manifest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator runs struct-level and schema-level checks on a manifest.
type Validator struct {
	validate *validator.Validate
	schema   *SchemaValidator
}

// NewValidator creates a Validator with the built-in schema.
func NewValidator() (*Validator, error) {
	schema, err := NewSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &Validator{
		validate: validator.New(),
		schema:   schema,
	}, nil
}

// Validate returns a *Error with code MANIFEST_INVALID describing the first
// class of problems found.
func (v *Validator) Validate(m *Manifest) error {
	if err := v.validate.Struct(m); err != nil {
		return newError(ErrCodeInvalid, m.Path, describeValidation(err), err)
	}

	seen := make(map[string]struct{}, len(m.Apps))
	for _, app := range m.Apps {
		if _, dup := seen[app.ID]; dup {
			return newError(ErrCodeInvalid, m.Path, fmt.Sprintf("duplicate app id %q", app.ID), nil)
		}
		seen[app.ID] = struct{}{}
	}

	if err := v.schema.Validate(m); err != nil {
		return newError(ErrCodeInvalid, m.Path, "manifest does not match schema", err)
	}

	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "validation failed"
	}

	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}
