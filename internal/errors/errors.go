// Package errors defines the coded error taxonomy shared by the services and
// the HTTP API. Every rejection the coordinator can produce maps to a stable
// code so callers can distinguish "not yet" from "never" without parsing
// message text.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a rejection class.
type Code string

const (
	// Validation errors, rejected before any state change.
	CodeInvalidItemCount  Code = "invalid_item_count"
	CodeInvalidItemIndex  Code = "invalid_item_index"
	CodeInsufficientStake Code = "insufficient_stake"
	CodeInvalidAddress    Code = "invalid_address"

	// Authorization errors.
	CodeNotAuthorized   Code = "not_authorized"
	CodeNotOperator     Code = "not_operator"
	CodeNotRequestOwner Code = "not_request_owner"

	// State-machine errors.
	CodeInvalidStatus    Code = "invalid_status"
	CodeAlreadyProcessed Code = "already_processed"
	CodeRequestNotFound  Code = "request_not_found"

	// Timing errors.
	CodeTimeoutNotReached Code = "timeout_not_reached"

	// Settlement errors.
	CodeRefundAlreadyIssued Code = "refund_already_issued"
	CodeTransferFailed      Code = "transfer_failed"

	// Surface-wide errors.
	CodeServicePaused Code = "service_paused"
)

// ServiceError is a rejection with a stable code and an HTTP mapping.
type ServiceError struct {
	Code       Code
	Message    string
	HTTPStatus int
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any ServiceError with the same code, so callers can use
// errors.Is against a sentinel built with the same constructor.
func (e *ServiceError) Is(target error) bool {
	var other *ServiceError
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

func newError(code Code, status int, format string, args ...any) *ServiceError {
	return &ServiceError{
		Code:       code,
		Message:    fmt.Sprintf(format, args...),
		HTTPStatus: status,
	}
}

func InvalidItemCount(count int) *ServiceError {
	return newError(CodeInvalidItemCount, http.StatusBadRequest, "item count %d outside 1..50", count)
}

func InvalidItemIndex(index, max int) *ServiceError {
	return newError(CodeInvalidItemIndex, http.StatusBadRequest, "item index %d outside 0..%d", index, max)
}

func InsufficientStake(deposit, minimum int64) *ServiceError {
	return newError(CodeInsufficientStake, http.StatusBadRequest, "deposit %d below minimum stake %d", deposit, minimum)
}

func InvalidAddress(addr string) *ServiceError {
	return newError(CodeInvalidAddress, http.StatusBadRequest, "invalid address %q", addr)
}

func NotAuthorized(principal, action string) *ServiceError {
	return newError(CodeNotAuthorized, http.StatusForbidden, "%s is not authorized to %s", principal, action)
}

func NotOperator(principal string) *ServiceError {
	return newError(CodeNotOperator, http.StatusForbidden, "%s does not hold the operator role", principal)
}

func NotRequestOwner(principal string, requestID uint64) *ServiceError {
	return newError(CodeNotRequestOwner, http.StatusForbidden, "%s does not own request %d", principal, requestID)
}

func InvalidStatus(requestID uint64, status string) *ServiceError {
	return newError(CodeInvalidStatus, http.StatusConflict, "request %d in status %s does not allow this transition", requestID, status)
}

func AlreadyProcessed(requestID uint64) *ServiceError {
	return newError(CodeAlreadyProcessed, http.StatusConflict, "request %d already left the pending state", requestID)
}

func RequestNotFound(requestID uint64) *ServiceError {
	return newError(CodeRequestNotFound, http.StatusNotFound, "request %d not found", requestID)
}

func TimeoutNotReached(requestID uint64, reason string) *ServiceError {
	return newError(CodeTimeoutNotReached, http.StatusConflict, "request %d not refundable yet: %s", requestID, reason)
}

func RefundAlreadyIssued(requestID uint64) *ServiceError {
	return newError(CodeRefundAlreadyIssued, http.StatusConflict, "refund for request %d already issued", requestID)
}

func TransferFailed(err error) *ServiceError {
	return newError(CodeTransferFailed, http.StatusBadGateway, "transfer failed: %v", err)
}

func ServicePaused(action string) *ServiceError {
	return newError(CodeServicePaused, http.StatusServiceUnavailable, "%s rejected: service is paused", action)
}

// CodeOf extracts the error code, or empty when err is not a ServiceError.
func CodeOf(err error) Code {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Code
	}
	return ""
}

// HTTPStatusOf maps an error to an HTTP status, defaulting to 500.
func HTTPStatusOf(err error) int {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
