package common

import "errors"

// Root conditions shared by every protocol module. Module specific errors
// wrap one of these so callers can classify failures with errors.Is without
// importing the originating package.
var (
	ErrUnauthorized       = errors.New("unauthorized caller")
	ErrOutOfRange         = errors.New("parameter out of range")
	ErrTokenConflict      = errors.New("token conflict")
	ErrInsufficientOutput = errors.New("insufficient output amount")
	ErrArithmetic         = errors.New("arithmetic failure")
)
