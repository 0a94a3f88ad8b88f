package intel

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorKind classifies failures across the system.
type ErrorKind string

// Error kinds.
const (
	KindValidation   ErrorKind = "validation"
	KindConflict     ErrorKind = "conflict"
	KindNotFound     ErrorKind = "not_found"
	KindDependency   ErrorKind = "dependency"
	KindCancellation ErrorKind = "cancellation"
	KindInternal     ErrorKind = "internal"
)

// Sentinels matched with errors.Is.
var (
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")
	ErrDependency = errors.New("dependency unavailable")
	ErrCanceled   = errors.New("canceled")
)

// Named failures.
var (
	ErrTemplateStoreUnavailable = &Error{
		Kind:    KindDependency,
		Op:      "template store",
		Message: "template store unavailable",
	}
	ErrInvalidFingerprint = &Error{
		Kind:    KindValidation,
		Op:      "fingerprint",
		Message: "invalid fingerprint",
	}
)

// Error carries a kind plus optional field-level detail.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Fields  map[string]string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	b.WriteString(msg)
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+e.Fields[k])
		}
		b.WriteString(" (")
		b.WriteString(strings.Join(parts, "; "))
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the cause and the kind sentinel.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Err != nil {
		out = append(out, e.Err)
	}
	if s := sentinel(e.Kind); s != nil {
		out = append(out, s)
	}
	return out
}

// Is lets named errors match by identity of kind and op.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Op == t.Op && e.Message == t.Message
}

func sentinel(kind ErrorKind) error {
	switch kind {
	case KindValidation:
		return ErrValidation
	case KindConflict:
		return ErrConflict
	case KindNotFound:
		return ErrNotFound
	case KindDependency:
		return ErrDependency
	case KindCancellation:
		return ErrCanceled
	default:
		return nil
	}
}

// Validation builds a validation error with field detail.
func Validation(op string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: "invalid input", Fields: fields}
}

// Validationf builds a validation error with a message.
func Validationf(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Conflict builds a conflict error.
func Conflict(op, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Op: op, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a not-found error for an entity and id.
func NotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Op: entity, Message: fmt.Sprintf("%s %q not found", entity, id)}
}

// Dependency wraps a failure of an external collaborator.
func Dependency(op string, err error) *Error {
	return &Error{Kind: KindDependency, Op: op, Message: "dependency unavailable", Err: err}
}

// Canceled builds a cancellation error.
func Canceled(reason string) *Error {
	if reason == "" {
		reason = "job canceled"
	}
	return &Error{Kind: KindCancellation, Message: reason}
}

// KindOf recovers the kind of err, or KindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}
	switch {
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrDependency):
		return KindDependency
	case errors.Is(err, ErrCanceled):
		return KindCancellation
	default:
		return KindInternal
	}
}

// FieldsOf returns field-level detail carried by err, if any.
func FieldsOf(err error) map[string]string {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Fields
	}
	return nil
}

// ToJobError converts err into the persisted job error form.
func ToJobError(err error) *JobError {
	if err == nil {
		return nil
	}
	return &JobError{Kind: KindOf(err), Message: err.Error()}
}

// InvalidFingerprint builds an ErrInvalidFingerprint carrying field detail.
func InvalidFingerprint(fields map[string]string) *Error {
	return &Error{
		Kind:    KindValidation,
		Op:      ErrInvalidFingerprint.Op,
		Message: ErrInvalidFingerprint.Message,
		Fields:  fields,
	}
}

// TemplateStoreUnavailable wraps cause as ErrTemplateStoreUnavailable.
func TemplateStoreUnavailable(cause error) *Error {
	return &Error{
		Kind:    KindDependency,
		Op:      ErrTemplateStoreUnavailable.Op,
		Message: ErrTemplateStoreUnavailable.Message,
		Err:     cause,
	}
}
