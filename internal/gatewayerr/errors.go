// Package gatewayerr defines the stable error taxonomy used across the
// query execution pipeline, per the error kinds enumerated in spec.md §7.
package gatewayerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a stable identifier for a class of gateway error. Kinds are
// exported as-is in extensions.code on the GraphQL error they produce.
type Kind string

const (
	KindBadRequest                   Kind = "BAD_REQUEST"
	KindInternalServerError          Kind = "INTERNAL_SERVER_ERROR"
	KindTrustedDocumentError         Kind = "TRUSTED_DOCUMENT_ERROR"
	KindPersistedQueryError          Kind = "PERSISTED_QUERY_ERROR"
	KindPersistedQueryNotFound       Kind = "PERSISTED_QUERY_NOT_FOUND"
	KindSubgraphError                Kind = "SUBGRAPH_ERROR"
	KindSubgraphInvalidResponseError Kind = "SUBGRAPH_INVALID_RESPONSE_ERROR"
	KindSubgraphRequestError         Kind = "SUBGRAPH_REQUEST_ERROR"
	KindUnauthenticated              Kind = "UNAUTHENTICATED"
	KindUnauthorized                 Kind = "UNAUTHORIZED"
	KindOperationParsingError        Kind = "OPERATION_PARSING_ERROR"
	KindOperationValidationError     Kind = "OPERATION_VALIDATION_ERROR"
	KindOperationPlanningError       Kind = "OPERATION_PLANNING_ERROR"
	KindVariableError                Kind = "VARIABLE_ERROR"
	KindExtensionError               Kind = "EXTENSION_ERROR"
	KindRateLimited                  Kind = "RATE_LIMITED"
	KindGatewayTimeout               Kind = "GATEWAY_TIMEOUT"
)

// statusFor maps each error kind to the HTTP status it implies (§4/§7).
// When multiple errors could determine the HTTP status of a response,
// the kind ranked highest in priority below picks which status wins.
var statusFor = map[Kind]int{
	KindUnauthenticated:              http.StatusUnauthorized,
	KindUnauthorized:                 http.StatusForbidden,
	KindGatewayTimeout:               http.StatusGatewayTimeout,
	KindRateLimited:                  http.StatusTooManyRequests,
	KindOperationParsingError:        http.StatusBadRequest,
	KindOperationValidationError:     http.StatusBadRequest,
	KindOperationPlanningError:       http.StatusBadRequest,
	KindVariableError:                http.StatusBadRequest,
	KindBadRequest:                   http.StatusBadRequest,
	KindTrustedDocumentError:         http.StatusBadRequest,
	KindPersistedQueryError:          http.StatusBadRequest,
	KindPersistedQueryNotFound:       http.StatusBadRequest,
	KindSubgraphError:                http.StatusOK,
	KindSubgraphInvalidResponseError: http.StatusOK,
	KindSubgraphRequestError:         http.StatusOK,
	KindExtensionError:               http.StatusOK,
	KindInternalServerError:          http.StatusInternalServerError,
}

// priority ranks kinds for the "highest priority status wins" rule. Lower
// value means higher priority. Kinds absent from this table never win a
// multi-error race and default to the first one seen.
var priority = map[Kind]int{
	KindUnauthenticated:          0,
	KindGatewayTimeout:           1,
	KindRateLimited:              2,
	KindUnauthorized:             3,
	KindOperationParsingError:    4,
	KindOperationValidationError: 5,
	KindOperationPlanningError:   6,
	KindVariableError:            7,
	KindBadRequest:               8,
	KindInternalServerError:      9,
}

// Error is a gateway-level error carrying a stable Kind, an optional
// GraphQL response path, and the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Path    []any
	Cause   error
	// ServiceName identifies the subgraph that originated the error, when
	// applicable (SubgraphError, SubgraphInvalidResponseError, ...).
	ServiceName string
	// Limit names which operation limit fired, when applicable
	// (spec.md §4.3: "each limit failure reports which limit fired").
	Limit string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus returns the HTTP status code this error kind maps to.
func (e *Error) HTTPStatus() int {
	if s, ok := statusFor[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New constructs a gateway error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a gateway error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithPath attaches a GraphQL response path to the error.
func (e *Error) WithPath(path []any) *Error {
	e.Path = path
	return e
}

// WithService attaches the originating subgraph name to the error.
func (e *Error) WithService(name string) *Error {
	e.ServiceName = name
	return e
}

// As reports whether err is (or wraps) a *Error, returning it if so.
func As(err error) (*Error, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// HighestPriorityStatus picks the HTTP status for a set of errors
// collected while building a single response, per spec.md §7's
// "highest-priority status wins" rule.
func HighestPriorityStatus(errs []*Error) int {
	if len(errs) == 0 {
		return http.StatusOK
	}
	best := errs[0]
	bestRank, ok := priority[best.Kind]
	if !ok {
		bestRank = 1 << 30
	}
	for _, e := range errs[1:] {
		rank, ok := priority[e.Kind]
		if !ok {
			rank = 1 << 30
		}
		if rank < bestRank {
			best, bestRank = e, rank
		}
	}
	return best.HTTPStatus()
}

// Extensions returns the extensions map the error should be serialized
// with on the GraphQL response's errors[] entry.
func (e *Error) Extensions() map[string]any {
	ext := map[string]any{"code": string(e.Kind)}
	if e.ServiceName != "" {
		ext["serviceName"] = e.ServiceName
	}
	if e.Limit != "" {
		ext["limit"] = e.Limit
	}
	return ext
}
