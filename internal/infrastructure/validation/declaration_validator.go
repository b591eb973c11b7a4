// Package validation checks registration payloads submitted by guest code.
package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/invopop/jsonschema"
	santhosh "github.com/santhosh-tekuri/jsonschema/v5"

	apperrors "github.com/reglet-dev/extsandbox/internal/application/errors"
	"github.com/reglet-dev/extsandbox/internal/domain/entities"
	"github.com/reglet-dev/extsandbox/internal/domain/services"
)

// DefaultAPIConstraint is the extension API range this host serves.
const DefaultAPIConstraint = "^1.0"

// FieldAPIVersion is the ValidationError field used for API version
// mismatches, so callers can tell them apart from schema failures.
const FieldAPIVersion = "apiVersion"

const schemaResource = "declaration.schema.json"

// DeclarationValidator validates raw registration payloads. It is safe for
// concurrent use.
type DeclarationValidator struct {
	schema     *santhosh.Schema
	constraint *semver.Constraints
	rawSchema  []byte
}

// NewDeclarationValidator compiles the declaration schema and the host API
// constraint. An empty constraint means DefaultAPIConstraint.
func NewDeclarationValidator(apiConstraint string) (*DeclarationValidator, error) {
	if strings.TrimSpace(apiConstraint) == "" {
		apiConstraint = DefaultAPIConstraint
	}
	constraint, err := semver.NewConstraint(apiConstraint)
	if err != nil {
		return nil, fmt.Errorf("invalid api constraint %q: %w", apiConstraint, err)
	}

	raw, err := GenerateDeclarationSchema()
	if err != nil {
		return nil, err
	}

	compiler := santhosh.NewCompiler()
	compiler.Draft = santhosh.Draft2020
	if err := compiler.AddResource(schemaResource, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("failed to add declaration schema: %w", err)
	}
	schema, err := compiler.Compile(schemaResource)
	if err != nil {
		return nil, fmt.Errorf("failed to compile declaration schema: %w", err)
	}

	return &DeclarationValidator{schema: schema, constraint: constraint, rawSchema: raw}, nil
}

// GenerateDeclarationSchema reflects the JSON schema of a registration.
func GenerateDeclarationSchema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		ExpandedStruct:            true,
		Anonymous:                 true,
		AllowAdditionalProperties: true,
	}
	schema := reflector.Reflect(&entities.Declaration{})

	raw, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return raw, nil
}

// Schema returns the generated schema document.
func (v *DeclarationValidator) Schema() []byte {
	return bytes.Clone(v.rawSchema)
}

// ValidateDeclaration implements ports.DeclarationValidator.
//
// Checks run in order: JSON shape, schema, domain invariants, hook filter
// compilation, then API version.
func (v *DeclarationValidator) ValidateDeclaration(raw json.RawMessage) (entities.Declaration, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return entities.Declaration{}, apperrors.NewValidationError("registration", "payload is not valid JSON", err.Error())
	}
	if _, ok := doc.(map[string]any); !ok {
		return entities.Declaration{}, apperrors.NewValidationError("registration", "payload must be an object")
	}

	if err := v.schema.Validate(doc); err != nil {
		var ve *santhosh.ValidationError
		if errors.As(err, &ve) {
			return entities.Declaration{}, apperrors.NewValidationError("registration", "schema validation failed", schemaMessages(ve)...)
		}
		return entities.Declaration{}, apperrors.NewValidationError("registration", "schema validation failed", err.Error())
	}

	var decl entities.Declaration
	if err := json.Unmarshal(raw, &decl); err != nil {
		return entities.Declaration{}, apperrors.NewValidationError("registration", "payload does not decode", err.Error())
	}

	if err := decl.Validate(); err != nil {
		var de *entities.DeclarationError
		if errors.As(err, &de) {
			return entities.Declaration{}, apperrors.NewValidationError("registration", "invalid declaration", de.Problems...)
		}
		return entities.Declaration{}, apperrors.NewValidationError("registration", "invalid declaration", err.Error())
	}

	var filterProblems []string
	for i, h := range decl.EventHooks {
		if _, err := services.CompileHookFilter(h.Filter); err != nil {
			filterProblems = append(filterProblems, fmt.Sprintf("eventHooks[%d]: %v", i, err))
		}
	}
	if len(filterProblems) > 0 {
		return entities.Declaration{}, apperrors.NewValidationError("eventHooks", "invalid hook filter", filterProblems...)
	}

	if err := v.CheckAPIVersion(decl.APIVersion); err != nil {
		return entities.Declaration{}, err
	}

	return decl, nil
}

// CheckAPIVersion reports whether an extension API version is served.
func (v *DeclarationValidator) CheckAPIVersion(raw string) error {
	version, err := semver.NewVersion(strings.TrimSpace(raw))
	if err != nil {
		return apperrors.NewValidationError(FieldAPIVersion, fmt.Sprintf("%q is not a semantic version", raw), err.Error())
	}
	if ok, reasons := v.constraint.Validate(version); !ok {
		details := make([]string, 0, len(reasons))
		for _, r := range reasons {
			details = append(details, r.Error())
		}
		return apperrors.NewValidationError(FieldAPIVersion,
			fmt.Sprintf("%s does not satisfy host constraint %s", version, v.constraint), details...)
	}
	return nil
}

// IsAPIVersionError reports whether err is an API version mismatch.
func IsAPIVersionError(err error) bool {
	var ve *apperrors.ValidationError
	return errors.As(err, &ve) && ve.Field == FieldAPIVersion
}

func schemaMessages(err *santhosh.ValidationError) []string {
	var messages []string

	var collect func(*santhosh.ValidationError)
	collect = func(e *santhosh.ValidationError) {
		if e.Message != "" && len(e.Causes) == 0 {
			location := e.InstanceLocation
			if location == "" {
				location = "(root)"
			}
			messages = append(messages, fmt.Sprintf("%s: %s", location, e.Message))
		}
		for _, cause := range e.Causes {
			collect(cause)
		}
	}
	collect(err)

	if len(messages) == 0 {
		messages = append(messages, err.Error())
	}
	sort.Strings(messages)
	return messages
}
