package resharding

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a persistence failure so a driver can decide whether to
// retry, reconcile with durable state, or escalate the operation to error.
type Kind int

const (
	KindUnknown Kind = iota
	// KindNamespaceNotFound: a catalog entry the call relies on is absent.
	KindNamespaceNotFound
	// KindNoSuchCoordinatorDocument: no coordinator document for the id.
	KindNoSuchCoordinatorDocument
	// KindConsistencyFence: temporary chunk/zone counts differ from expected.
	KindConsistencyFence
	// KindIllegalTransition: the document cannot move from its durable state.
	KindIllegalTransition
	// KindConflictingOperation: another operation owns the namespace.
	KindConflictingOperation
	// KindInvalidDocument: the caller's document or records are malformed.
	KindInvalidDocument
	// KindInvariantViolation: durable state failed a postcondition.
	KindInvariantViolation
	// KindInfrastructure: the catalog store failed or timed out.
	KindInfrastructure
)

// Stable numeric codes reported with each kind.
const (
	CodeInternalError                  = 1
	CodeBadValue                       = 2
	CodeIllegalOperation               = 20
	CodeNamespaceNotFound              = 26
	CodeConflictingOperationInProgress = 117
	CodeNoSuchCoordinatorDocument      = 5030400
	CodeInvariantViolation             = 5030401
)

var kindNames = map[Kind]string{
	KindUnknown:                   "Unknown",
	KindNamespaceNotFound:         "NamespaceNotFound",
	KindNoSuchCoordinatorDocument: "NoSuchCoordinatorDocument",
	KindConsistencyFence:          "ConsistencyFence",
	KindIllegalTransition:         "IllegalTransition",
	KindConflictingOperation:      "ConflictingOperation",
	KindInvalidDocument:           "InvalidDocument",
	KindInvariantViolation:        "InvariantViolation",
	KindInfrastructure:            "Infrastructure",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind returns the kind named name, or KindUnknown.
func ParseKind(name string) Kind {
	for k, n := range kindNames {
		if n == name {
			return k
		}
	}
	return KindUnknown
}

// Code returns the stable code for k. The missing-document and fence kinds
// share a code; Kind tells them apart.
func (k Kind) Code() int {
	switch k {
	case KindNamespaceNotFound:
		return CodeNamespaceNotFound
	case KindNoSuchCoordinatorDocument, KindConsistencyFence:
		return CodeNoSuchCoordinatorDocument
	case KindIllegalTransition:
		return CodeIllegalOperation
	case KindConflictingOperation:
		return CodeConflictingOperationInProgress
	case KindInvalidDocument:
		return CodeBadValue
	case KindInvariantViolation:
		return CodeInvariantViolation
	default:
		return CodeInternalError
	}
}

// Error is the typed failure returned by every persistence operation.
type Error struct {
	Kind Kind
	Code int
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%d): %s: %v", e.Kind, e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.Code, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the Err* values below work as
// sentinels with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrNamespaceNotFound         = &Error{Kind: KindNamespaceNotFound, Code: CodeNamespaceNotFound}
	ErrNoSuchCoordinatorDocument = &Error{Kind: KindNoSuchCoordinatorDocument, Code: CodeNoSuchCoordinatorDocument}
	ErrConsistencyFence          = &Error{Kind: KindConsistencyFence, Code: CodeNoSuchCoordinatorDocument}
	ErrIllegalTransition         = &Error{Kind: KindIllegalTransition, Code: CodeIllegalOperation}
	ErrConflictingOperation      = &Error{Kind: KindConflictingOperation, Code: CodeConflictingOperationInProgress}
	ErrInvalidDocument           = &Error{Kind: KindInvalidDocument, Code: CodeBadValue}
	ErrInvariantViolation        = &Error{Kind: KindInvariantViolation, Code: CodeInvariantViolation}
	ErrInfrastructure            = &Error{Kind: KindInfrastructure, Code: CodeInternalError}
)

// Errorf returns a new *Error of kind k.
func Errorf(k Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Code: k.Code(), Msg: fmt.Sprintf(format, args...)}
}

// Wrap returns a new *Error of kind k caused by err.
func Wrap(k Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Code: k.Code(), Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or KindUnknown for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf returns the code of err, 0 for nil and CodeInternalError for
// untyped errors.
func CodeOf(err error) int {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternalError
}

// Disposition is what a driver should do after a failed call.
type Disposition string

const (
	// DispositionNone: the call succeeded.
	DispositionNone Disposition = ""
	// DispositionRetry: re-issue the same call; the outcome is indeterminate.
	DispositionRetry Disposition = "retry"
	// DispositionReconcile: re-read the durable state before deciding.
	DispositionReconcile Disposition = "reconcile"
	// DispositionEscalate: move the operation to the error state.
	DispositionEscalate Disposition = "escalate"
)

// DispositionOf maps err to the driver action for it. Untyped errors, such as
// context cancellation, leave the outcome unknown and are retried.
func DispositionOf(err error) Disposition {
	if err == nil {
		return DispositionNone
	}
	switch KindOf(err) {
	case KindNoSuchCoordinatorDocument, KindIllegalTransition:
		return DispositionReconcile
	case KindNamespaceNotFound, KindConsistencyFence, KindConflictingOperation,
		KindInvalidDocument, KindInvariantViolation:
		return DispositionEscalate
	default:
		return DispositionRetry
	}
}
