package service

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrAssignmentNotFound indicates the assignment was not located.
	ErrAssignmentNotFound = errors.New("assignment not found")
	// ErrAssignmentArchived indicates the assignment no longer accepts candidate actions.
	ErrAssignmentArchived = errors.New("assignment is archived")
	// ErrAssignmentCompleted indicates grading already finished for the assignment.
	ErrAssignmentCompleted = errors.New("assignment already completed")
	// ErrSubmissionNotFound indicates the submission was not located.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrTestNotFound indicates the test was not located.
	ErrTestNotFound = errors.New("test not found")
	// ErrTestConfigurationNotFound indicates the test configuration was not located.
	ErrTestConfigurationNotFound = errors.New("test configuration not found")
	// ErrInvalidSignature indicates a webhook body failed signature verification.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrPipelineNotCommitted indicates the grading repository lacks the files CI needs to run.
	ErrPipelineNotCommitted = errors.New("grading pipeline not committed")
	// ErrInvalidTransition is matched by every InvalidTransitionError.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError reports malformed input. Fields maps a field or JSON pointer to its problem.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for key := range e.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+": "+e.Fields[key])
	}
	return e.Message + " (" + strings.Join(parts, "; ") + ")"
}

// NewValidationError builds a ValidationError without field details.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

// NewValidator returns a validator that reports fields by their JSON names.
func NewValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return validate
}

// validationFailure converts validator errors into a ValidationError.
func validationFailure(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &ValidationError{Message: err.Error()}
	}
	fields := make(map[string]string, len(fieldErrs))
	for _, fieldErr := range fieldErrs {
		fields[strings.ToLower(fieldErr.Field())] = fieldErr.Tag()
	}
	return &ValidationError{Message: "invalid payload", Fields: fields}
}

// InvalidTransitionError is returned when a status change would break assignment monotonicity.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot move assignment from %q to %q", e.From, e.To)
}

// Is lets callers match any transition failure with errors.Is(err, ErrInvalidTransition).
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// StorageError wraps a persistence failure. The webhook endpoint answers 500 so CI retries.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// PartialWriteWarning describes a file that did not make it into the grading repository.
type PartialWriteWarning struct {
	Path   string
	Reason string
}

func (w PartialWriteWarning) String() string {
	return w.Path + ": " + w.Reason
}

// WarningStrings flattens warnings for API responses and logs.
func WarningStrings(warnings []PartialWriteWarning) []string {
	out := make([]string, 0, len(warnings))
	for _, warning := range warnings {
		out = append(out, warning.String())
	}
	return out
}
