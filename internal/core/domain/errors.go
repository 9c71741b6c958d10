package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/grpc/codes"
)

// Kind is the machine-readable class of every error the engine returns.
type Kind string

const (
	KindNotFound         Kind = "NOT_FOUND"
	KindStaleState       Kind = "STALE_STATE"
	KindCapacityExceeded Kind = "CAPACITY_EXCEEDED"
	KindSlotConflict     Kind = "SLOT_CONFLICT"
	KindCycleDetected    Kind = "CYCLE_DETECTED"
	KindLockTimeout      Kind = "LOCK_TIMEOUT"
	KindConflictAborted  Kind = "CONFLICT_ABORTED"
	KindStorageFailure   Kind = "STORAGE_FAILURE"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrStaleState       = errors.New("stale state")
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrSlotConflict     = errors.New("slot conflict")
	ErrCycleDetected    = errors.New("cycle detected")
	ErrLockTimeout      = errors.New("lock timeout")
	ErrConflictAborted  = errors.New("conflict aborted")
	ErrStorageFailure   = errors.New("storage failure")

	ErrDuplicateRequest = errors.New("duplicate request")
)

var kindSentinels = map[Kind]error{
	KindNotFound:         ErrNotFound,
	KindStaleState:       ErrStaleState,
	KindCapacityExceeded: ErrCapacityExceeded,
	KindSlotConflict:     ErrSlotConflict,
	KindCycleDetected:    ErrCycleDetected,
	KindLockTimeout:      ErrLockTimeout,
	KindConflictAborted:  ErrConflictAborted,
	KindStorageFailure:   ErrStorageFailure,
}

var kindOrder = []Kind{
	KindNotFound,
	KindStaleState,
	KindCapacityExceeded,
	KindSlotConflict,
	KindCycleDetected,
	KindLockTimeout,
	KindConflictAborted,
	KindStorageFailure,
}

// Error is the concrete error type of the engine. errors.Is matches both the
// kind's sentinel and the wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	ID   ID
	Msg  string
	Err  error
}

// NewError builds an error of the given kind.
func NewError(kind Kind, op string, id ID, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, ID: id, Msg: fmt.Sprintf(format, args...)}
}

// WrapError classifies err under kind.
func WrapError(kind Kind, op string, id ID, err error) *Error {
	return &Error{Kind: kind, Op: op, ID: id, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.ID != "" {
		b.WriteString(string(e.ID))
		b.WriteString(": ")
	}
	if e.Msg != "" {
		b.WriteString(e.Msg)
	} else if sentinel, ok := kindSentinels[e.Kind]; ok {
		b.WriteString(sentinel.Error())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if sentinel, ok := kindSentinels[e.Kind]; ok {
		errs = append(errs, sentinel)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf extracts the kind from any error. Errors from outside the engine
// are reported as storage failures so callers never see an unclassified kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for _, kind := range kindOrder {
		if errors.Is(err, kindSentinels[kind]) {
			return kind
		}
	}
	return KindStorageFailure
}

// IsKind reports whether err is of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether repeating the same request may succeed.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindLockTimeout, KindConflictAborted:
		return true
	default:
		return false
	}
}

// GRPCCode maps kinds to gRPC status codes.
func (k Kind) GRPCCode() codes.Code {
	switch k {
	case KindNotFound:
		return codes.NotFound
	case KindStaleState, KindCapacityExceeded, KindSlotConflict, KindCycleDetected:
		return codes.FailedPrecondition
	case KindLockTimeout:
		return codes.DeadlineExceeded
	case KindConflictAborted:
		return codes.Aborted
	case KindStorageFailure:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// HTTPStatus maps kinds to HTTP status codes.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindStaleState, KindSlotConflict, KindCycleDetected:
		return http.StatusConflict
	case KindCapacityExceeded:
		return http.StatusUnprocessableEntity
	case KindLockTimeout, KindConflictAborted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
