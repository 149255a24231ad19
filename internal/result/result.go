// Package result defines the uniform (code, message) outcome used on every
// async path through the controller. A Code is partitioned into stable
// numeric ranges; Classify predicates let callers decide retry/drop/surface
// behaviour without a giant switch at each call site.
package result

import "fmt"

// Code is a stable, wire-visible error/success code.
type Code uint64

// Code ranges, per spec: general (<2000), session (2000-2999), config
// (3000-3999), codec/parse (4000-4999), auth (5000-5999), backend lifecycle
// (6000-6999), general infra (>=10000), non-critical/retryable
// (50000-59000).
const (
	Success Code = 0

	ErrInput           Code = 1001
	ErrSignaling       Code = 1002 // distinct from ErrMaxError despite sharing 1002 in the legacy source
	ErrMaxError        Code = 1003
	ErrConnectionLost  Code = 1007
	ErrParameterMissing Code = 1008
	ErrNotFound        Code = 1011

	ErrUnknownSession Code = 2002

	ErrConfig Code = 3000

	ErrJSONDecode Code = 4002
	ErrJSONEncode Code = 4003

	ErrAuthFailed          Code = 5000
	ErrAlreadyAuthenticated Code = 5002
	ErrNotAuthenticated    Code = 5003
	ErrPermission          Code = 5004
	ErrLDAPInUse           Code = 5005

	ErrBackendLost Code = 6000

	ErrTimeout Code = 20001

	ErrBadArgument Code = 30020

	ErrAudioIO       Code = 40100
	ErrAudioUnderrun Code = 40110

	retryableLow  Code = 50000
	retryableHigh Code = 59000
)

// IsSuccess reports whether c denotes success (code 0).
func (c Code) IsSuccess() bool { return c == Success }

// IsRetryable reports whether c falls in the non-critical/retryable range.
func (c Code) IsRetryable() bool { return c >= retryableLow && c < retryableHigh }

// IsCritical reports whether c is an error code outside the non-critical
// range. Success is neither critical nor retryable.
func (c Code) IsCritical() bool { return !c.IsSuccess() && !c.IsRetryable() }

// Result is the outcome of an async operation.
type Result struct {
	Code    Code
	Message string
}

// Set mirrors ov_result_set: fails (returns false, leaves r untouched) if
// code==0 and message is non-empty, or if code!=0 and message is empty.
func Set(r *Result, code Code, message string) bool {
	if code.IsSuccess() && message != "" {
		return false
	}
	if !code.IsSuccess() && message == "" {
		return false
	}
	r.Code = code
	r.Message = message
	return true
}

// Clear resets r to the zero/success result.
func Clear(r *Result) bool {
	r.Code = Success
	r.Message = ""
	return true
}

// OK reports whether r represents success.
func (r Result) OK() bool { return r.Code.IsSuccess() }

// Error implements the error interface so a Result can be returned/wrapped
// as a normal Go error at internal call boundaries.
func (r Result) Error() string {
	if r.OK() {
		return ""
	}
	if r.Message == "" {
		return fmt.Sprintf("error %d", r.Code)
	}
	return fmt.Sprintf("error %d: %s", r.Code, r.Message)
}

// Errorf builds a non-success Result with a formatted message.
func Errorf(code Code, format string, args ...any) Result {
	return Result{Code: code, Message: fmt.Sprintf(format, args...)}
}
