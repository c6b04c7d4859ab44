package protocol

import (
	"errors"
	"fmt"
)

const (
	// Input shape.
	CodeValidation = "E_VALIDATION"
	CodeNotFound   = "E_NOT_FOUND"

	// Roles and capabilities.
	CodeUnauthorized       = "E_UNAUTHORIZED"
	CodeUnauthorizedMinter = "E_UNAUTHORIZED_MINTER"

	// Ledger rules.
	CodeInsufficientResource = "E_INSUFFICIENT_RESOURCE"
	CodeSupplyCapExceeded    = "E_SUPPLY_CAP"
	CodeInvalidZone          = "E_INVALID_ZONE"
	CodeZoneExhausted        = "E_ZONE_EXHAUSTED"
	CodeSeasonNotReady       = "E_SEASON_NOT_READY"

	CodeInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	CodeValidation:           {},
	CodeNotFound:             {},
	CodeUnauthorized:         {},
	CodeUnauthorizedMinter:   {},
	CodeInsufficientResource: {},
	CodeSupplyCapExceeded:    {},
	CodeInvalidZone:          {},
	CodeZoneExhausted:        {},
	CodeSeasonNotReady:       {},
	CodeInternal:             {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// Sentinels for errors.Is. Any *Error with the same code matches.
var (
	ErrValidation           = &Error{Code: CodeValidation, Message: "validation failed"}
	ErrNotFound             = &Error{Code: CodeNotFound, Message: "not found"}
	ErrUnauthorized         = &Error{Code: CodeUnauthorized, Message: "unauthorized"}
	ErrUnauthorizedMinter   = &Error{Code: CodeUnauthorizedMinter, Message: "unauthorized minter"}
	ErrInsufficientResource = &Error{Code: CodeInsufficientResource, Message: "insufficient resource"}
	ErrSupplyCapExceeded    = &Error{Code: CodeSupplyCapExceeded, Message: "supply cap exceeded"}
	ErrInvalidZone          = &Error{Code: CodeInvalidZone, Message: "invalid zone"}
	ErrZoneExhausted        = &Error{Code: CodeZoneExhausted, Message: "zone exhausted"}
	ErrSeasonNotReady       = &Error{Code: CodeSeasonNotReady, Message: "season not ready"}
	ErrInternal             = &Error{Code: CodeInternal, Message: "internal error"}
)

// Error is a rejected operation. Nothing it describes was applied.
type Error struct {
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func Errorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf returns the code of the first *Error in err's chain, CodeInternal for
// foreign errors and "" for nil.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
