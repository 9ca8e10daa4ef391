package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/chainrule-labs/pesto-contracts-sub000/core"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/common"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/fees"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/lending"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/oracle"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/position"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/swap"
	"github.com/chainrule-labs/pesto-contracts-sub000/native/token"
)

// statusFor maps a protocol error onto an HTTP status and a stable error
// code. Messages of unclassified errors are not exposed.
func statusFor(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, common.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, common.ErrOutOfRange):
		return http.StatusBadRequest, "out_of_range"
	case errors.Is(err, common.ErrTokenConflict):
		return http.StatusConflict, "token_conflict"
	case errors.Is(err, common.ErrInsufficientOutput):
		return http.StatusUnprocessableEntity, "insufficient_output"
	case errors.Is(err, common.ErrArithmetic):
		return http.StatusUnprocessableEntity, "arithmetic_failure"
	case errors.Is(err, position.ErrPositionExists):
		return http.StatusConflict, "position_exists"
	case errors.Is(err, position.ErrPositionNotFound),
		errors.Is(err, token.ErrUnknownToken),
		errors.Is(err, lending.ErrUnknownReserve),
		errors.Is(err, swap.ErrPoolNotFound),
		errors.Is(err, oracle.ErrNoPrice):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, common.ErrModulePaused):
		return http.StatusServiceUnavailable, "paused"
	case errors.Is(err, common.ErrQuotaRequestsExceeded):
		return http.StatusTooManyRequests, "quota_exceeded"
	case errors.Is(err, token.ErrInsufficientBalance),
		errors.Is(err, token.ErrInsufficientAllowance),
		errors.Is(err, lending.ErrBorrowCapacityExceeded),
		errors.Is(err, lending.ErrHealthCheckFailed),
		errors.Is(err, lending.ErrInsufficientLiquidity),
		errors.Is(err, lending.ErrInsufficientSupply),
		errors.Is(err, swap.ErrInsufficientLiquidity),
		errors.Is(err, swap.ErrDeadlineExpired),
		errors.Is(err, oracle.ErrStalePrice):
		return http.StatusUnprocessableEntity, "rejected"
	case errors.Is(err, lending.ErrInvalidAmount),
		errors.Is(err, swap.ErrInvalidAmount):
		return http.StatusBadRequest, "out_of_range"
	case errors.Is(err, fees.ErrNotInitialised), errors.Is(err, core.ErrNotBootstrapped):
		return http.StatusServiceUnavailable, "not_ready"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "cancelled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
