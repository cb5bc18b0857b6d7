// Package errs defines the error taxonomy surfaced by the file-system core
// engine (pkg/engine/...). It generalizes the StoreError/ErrorCode pattern
// used elsewhere in this codebase's metadata layer to the fuller taxonomy
// the engine needs: sharing violations carry a reason, lock conflicts carry
// the conflicting lock, and so on.
package errs

import "fmt"

// Code identifies the category of an engine error.
type Code int

const (
	NotFound Code = iota
	PathNotFound
	NotADirectory
	IsADirectory
	Exists
	DeletePending
	SharingViolation
	AccessDenied
	PrivilegeNotHeld
	InvalidName
	InvalidParameter
	BufferTooSmall
	BufferOverflow
	IOReparseDataInvalid
	IOReparseTagInvalid
	NotAReparsePoint
	EndOfFile
	NoMoreEntries
	OplockNotGranted
	OplockBreakInProgress
	CantWait
	Canceled
	OutOfMemory
	InternalCorrupt
)

func (c Code) String() string {
	switch c {
	case NotFound:
		return "not-found"
	case PathNotFound:
		return "path-not-found"
	case NotADirectory:
		return "not-a-directory"
	case IsADirectory:
		return "is-a-directory"
	case Exists:
		return "exists"
	case DeletePending:
		return "delete-pending"
	case SharingViolation:
		return "sharing-violation"
	case AccessDenied:
		return "access-denied"
	case PrivilegeNotHeld:
		return "privilege-not-held"
	case InvalidName:
		return "invalid-name"
	case InvalidParameter:
		return "invalid-parameter"
	case BufferTooSmall:
		return "buffer-too-small"
	case BufferOverflow:
		return "buffer-overflow"
	case IOReparseDataInvalid:
		return "io-reparse-data-invalid"
	case IOReparseTagInvalid:
		return "io-reparse-tag-invalid"
	case NotAReparsePoint:
		return "not-a-reparse-point"
	case EndOfFile:
		return "end-of-file"
	case NoMoreEntries:
		return "no-more-entries"
	case OplockNotGranted:
		return "oplock-not-granted"
	case OplockBreakInProgress:
		return "oplock-break-in-progress"
	case CantWait:
		return "cant-wait"
	case Canceled:
		return "canceled"
	case OutOfMemory:
		return "out-of-memory"
	case InternalCorrupt:
		return "internal-corrupt"
	default:
		return "unknown"
	}
}

// SharingReason tags why a sharing violation fired; the cross-stream rules
// of §4.4 need this distinction to be testable, not just "sharing-violation".
type SharingReason string

const (
	ReasonNone       SharingReason = ""
	ReasonMainFile   SharingReason = "main-file"
	ReasonStream     SharingReason = "stream"
	ReasonShareMode  SharingReason = "share-mode"
	ReasonWritableMM SharingReason = "writable-section"
)

// EngineError is the error type every engine component returns for
// business-logic failures, as opposed to Go infrastructure errors (context
// cancellation aside, which is reported as Code==Canceled too so callers
// have a single taxonomy to switch on).
type EngineError struct {
	ErrCode Code
	Message string
	Path    string
	Reason  SharingReason
}

func (e *EngineError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.ErrCode.String()
	}
	if e.Reason != ReasonNone {
		msg = fmt.Sprintf("%s (reason=%s)", msg, e.Reason)
	}
	if e.Path != "" {
		return msg + ": " + e.Path
	}
	return msg
}

// Code returns the error's category, satisfying the convention the rest of
// this codebase uses (compare pkg/metadata StoreError.Code).
func (e *EngineError) Code() Code { return e.ErrCode }

func New(code Code, path string) *EngineError {
	return &EngineError{ErrCode: code, Path: path}
}

func Newf(code Code, path, format string, args ...any) *EngineError {
	return &EngineError{ErrCode: code, Path: path, Message: fmt.Sprintf(format, args...)}
}

func NewSharingViolation(path string, reason SharingReason) *EngineError {
	return &EngineError{ErrCode: SharingViolation, Message: "sharing violation", Path: path, Reason: reason}
}

func NewDeletePending(path string) *EngineError {
	return &EngineError{ErrCode: DeletePending, Message: "delete pending", Path: path}
}

func NewNotFound(path string) *EngineError {
	return &EngineError{ErrCode: NotFound, Message: "not found", Path: path}
}

func NewExists(path string) *EngineError {
	return &EngineError{ErrCode: Exists, Message: "object name collision", Path: path}
}

func NewCantWait() *EngineError {
	return &EngineError{ErrCode: CantWait, Message: "would block"}
}

func NewCanceled() *EngineError {
	return &EngineError{ErrCode: Canceled, Message: "request canceled"}
}

func NewInternalCorrupt(message string) *EngineError {
	return &EngineError{ErrCode: InternalCorrupt, Message: message}
}

func NewAccessDenied(path string) *EngineError {
	return &EngineError{ErrCode: AccessDenied, Message: "access denied", Path: path}
}

// Is reports whether err is an *EngineError with the given code. It mirrors
// the IsNotFoundError helper already present in pkg/metadata/errors.go.
func Is(err error, code Code) bool {
	ee, ok := err.(*EngineError)
	return ok && ee.ErrCode == code
}
