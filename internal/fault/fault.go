// Package fault defines the error taxonomy shared by the registry,
// provisioner, lifecycle controller and HTTP handlers. Every error carries a
// machine-checkable kind so handlers can map it to a status code without
// string matching.
package fault

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type Kind string

const (
	InvalidArgument Kind = "invalid-argument"
	Conflict        Kind = "conflict"
	Forbidden       Kind = "forbidden"
	NotFound        Kind = "not-found"
	InvalidState    Kind = "invalid-state"
	Timeout         Kind = "timeout"
	PartialFailure  Kind = "partial-failure"
	Upstream        Kind = "upstream-failure"
)

type Error struct {
	Kind    Kind
	Message string
	// Applied lists the provisioning steps that already ran when a
	// multi-step edit failed partway. Only set for PartialFailure.
	Applied []string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Partial reports a multi-step mutation that failed after some steps already
// ran. The applied steps are kept so an operator can reconcile by hand.
func Partial(err error, applied []string, failed string) *Error {
	return &Error{
		Kind:    PartialFailure,
		Message: fmt.Sprintf("step %q failed after %d step(s) were applied [%s]; manual reconciliation required", failed, len(applied), strings.Join(applied, "; ")),
		Applied: applied,
		Err:     err,
	}
}

// KindOf extracts the kind from err, or Upstream if err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Upstream
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps an error kind to the status code the API surface uses.
// Conflict, InvalidState and Upstream all surface as 400 to callers.
func HTTPStatus(kind Kind) int {
	switch kind {
	case InvalidArgument, Conflict, InvalidState, Upstream:
		return http.StatusBadRequest
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Timeout:
		return http.StatusGatewayTimeout
	case PartialFailure:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}
