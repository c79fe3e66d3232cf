package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/gilchrisn/budgeted-influence-service/pkg/models"
)

var validate = validator.New()

// ValidationError describes one invalid field
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

func (ve ValidationError) Error() string {
	if ve.Value != "" {
		return fmt.Sprintf("validation error in field '%s': %s (value: %s)", ve.Field, ve.Message, ve.Value)
	}
	return fmt.Sprintf("validation error in field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}
	return fmt.Sprintf("%d validation errors: %s (and %d more)", len(ve), ve[0].Error(), len(ve)-1)
}

// Params are the run parameters of one seed-selection or simulation request.
type Params struct {
	GraphFile    string  `json:"graph_file" validate:"required"`
	GraphType    string  `json:"graph_type" validate:"oneof=directed undirected"`
	Model        string  `json:"model" validate:"oneof=ic instant icm ic-m ic_m delayed"`
	Deadline     int     `json:"deadline" validate:"gte=0"`
	Epsilon      float64 `json:"epsilon" validate:"gt=0,lt=1"`
	Ell          float64 `json:"ell" validate:"gt=0"`
	K            int     `json:"k" validate:"gte=0"`
	Trials       int     `json:"trials" validate:"gt=0"`
	MaxSamples   int     `json:"max_samples" validate:"gt=0"`
	Participants []int   `json:"participants" validate:"dive,gte=0"`
}

// ValidateParams checks p field by field. A delayed model additionally
// requires a positive deadline.
func ValidateParams(p Params) error {
	var errs ValidationErrors
	if err := ValidateStruct(p); err != nil {
		if !errors.As(err, &errs) {
			return err
		}
	}

	if model, err := models.ParseDiffusionModel(p.Model); err == nil && model == models.ModelDelayed && p.Deadline <= 0 {
		errs = append(errs, ValidationError{
			Field:   "deadline",
			Message: "delayed model requires a positive deadline",
			Value:   fmt.Sprintf("%d", p.Deadline),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidateStruct checks the `validate` tags of v and reports every failing
// field as a ValidationErrors.
func ValidateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	errs := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		errs = append(errs, ValidationError{
			Field:   fieldName(fe),
			Message: formatFieldError(fe),
			Value:   fmt.Sprintf("%v", fe.Value()),
		})
	}
	return errs
}

// ValidateParticipants checks that every participant is a node of g.
func ValidateParticipants(g *models.Graph, participants []int) error {
	var errs ValidationErrors
	for _, u := range participants {
		if u < 0 || u >= g.NumNodes {
			errs = append(errs, ValidationError{
				Field:   "participants",
				Message: fmt.Sprintf("node must be in [0, %d)", g.NumNodes),
				Value:   fmt.Sprintf("%d", u),
			})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidateGraph checks structural consistency of g and that it can be
// sampled.
func ValidateGraph(g *models.Graph) error {
	var errs ValidationErrors
	if g.NumNodes == 0 {
		errs = append(errs, ValidationError{Field: "graph", Message: "graph must contain at least one node"})
	}
	if err := g.Validate(); err != nil {
		errs = append(errs, ValidationError{Field: "graph", Message: err.Error()})
	}
	if err := g.CheckModel(); err != nil {
		errs = append(errs, ValidationError{Field: "model", Message: err.Error()})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func fieldName(fe validator.FieldError) string {
	name := fe.Field()
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	return toSnake(name)
}

// formatFieldError formats a single field validation error
func formatFieldError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", e.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "lt":
		return fmt.Sprintf("must be less than %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", e.Param())
	default:
		return "is invalid"
	}
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
