package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrNotEnabled       = errors.New("facial sign-on not enabled")
	ErrAuth             = errors.New("vendor authentication failed")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrReplay           = errors.New("one-time token already used")
	ErrIdentityMismatch = errors.New("client id mismatch")
	ErrRateLimited      = errors.New("rate limited")
	ErrUpstream         = errors.New("upstream failure")
	ErrTransient        = errors.New("transient network failure")
)

var codes = []struct {
	kind error
	code string
}{
	{ErrValidation, "validation_error"},
	{ErrNotFound, "not_found"},
	{ErrNotEnabled, "not_enabled"},
	{ErrAuth, "auth_error"},
	{ErrUnauthorized, "unauthorized"},
	{ErrForbidden, "forbidden"},
	{ErrReplay, "replay"},
	{ErrIdentityMismatch, "identity_mismatch"},
	{ErrRateLimited, "rate_limited"},
	{ErrUpstream, "upstream_error"},
	{ErrTransient, "transient_network_error"},
}

// Error is a classified failure. Detail and Err are for logs only; UserMessage is the
// only text that may reach a client.
type Error struct {
	Kind        error
	VendorCode  int
	UserMessage string
	Detail      string
	Err         error
}

// NewError builds an Error of the given kind.
func NewError(kind error, userMessage, detail string) *Error {
	return &Error{Kind: kind, UserMessage: userMessage, Detail: detail}
}

// WrapError classifies cause under kind.
func WrapError(kind error, userMessage string, cause error) *Error {
	e := &Error{Kind: kind, UserMessage: userMessage, Err: cause}
	if cause != nil {
		e.Detail = cause.Error()
	}
	return e
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.VendorCode != 0 {
		msg = fmt.Sprintf("%s (vendor code %d)", msg, e.VendorCode)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Code returns the machine-readable code for the error kind.
func (e *Error) Code() string { return CodeOf(e.Kind) }

// CodeOf returns the machine code for err. A classified *Error reports its own kind;
// otherwise the first taxonomy kind err wraps wins.
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		err = de.Kind
	}
	for _, c := range codes {
		if errors.Is(err, c.kind) {
			return c.code
		}
	}
	return "internal_error"
}

// UserMessage extracts the client-safe message from err, falling back to fallback.
func UserMessage(err error, fallback string) string {
	var de *Error
	if errors.As(err, &de) && de.UserMessage != "" {
		return de.UserMessage
	}
	return fallback
}

// VendorCode extracts the vendor's numeric error code, or 0.
func VendorCode(err error) int {
	var de *Error
	if errors.As(err, &de) {
		return de.VendorCode
	}
	return 0
}
