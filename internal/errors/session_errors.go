package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Session-control sentinel errors
var (
	ErrLicenseKeyEmpty     = errors.New("license key is empty")
	ErrLicenseKeyMalformed = errors.New("license key is malformed")
	ErrLicenseUnknown      = errors.New("license not found")
	ErrSubscriptionInvalid = errors.New("subscription is not valid")
	ErrConnectionNotFound  = errors.New("connection not found")
	ErrSendBufferFull      = errors.New("connection send buffer full")
	ErrSessionNotFound     = errors.New("session not found")
	ErrBackendUnavailable  = errors.New("session backend unavailable")
)

// InvalidLicenseError reports a license key that is missing, malformed or
// unknown to the license backend.
type InvalidLicenseError struct {
	LicenseKey string
	Cause      error
}

// Error implements the error interface
func (e *InvalidLicenseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid license: %v", e.Cause)
	}
	return "invalid license"
}

// Unwrap allows errors.Is to reach the cause
func (e *InvalidLicenseError) Unwrap() error {
	return e.Cause
}

// NewInvalidLicenseError creates an InvalidLicenseError
func NewInvalidLicenseError(licenseKey string, cause error) *InvalidLicenseError {
	return &InvalidLicenseError{LicenseKey: licenseKey, Cause: cause}
}

// InvalidSubscriptionError reports a known license whose subscription has
// lapsed or is otherwise not entitled to a session.
type InvalidSubscriptionError struct {
	LicenseKey string
	Cause      error
}

// Error implements the error interface
func (e *InvalidSubscriptionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid subscription: %v", e.Cause)
	}
	return "invalid subscription"
}

// Unwrap allows errors.Is to reach the cause
func (e *InvalidSubscriptionError) Unwrap() error {
	return e.Cause
}

// NewInvalidSubscriptionError creates an InvalidSubscriptionError
func NewInvalidSubscriptionError(licenseKey string, cause error) *InvalidSubscriptionError {
	return &InvalidSubscriptionError{LicenseKey: licenseKey, Cause: cause}
}

// DeliveryError reports a failed push to a connection handle.
// It is logged and swallowed by the invalidation publisher.
type DeliveryError struct {
	Handle string
	Cause  error
}

// Error implements the error interface
func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to connection %s failed: %v", e.Handle, e.Cause)
}

// Unwrap allows errors.Is to reach the cause
func (e *DeliveryError) Unwrap() error {
	return e.Cause
}

// NewDeliveryError creates a DeliveryError
func NewDeliveryError(handle string, cause error) *DeliveryError {
	return &DeliveryError{Handle: handle, Cause: cause}
}

// IsInvalidLicense reports whether err is, or wraps, an InvalidLicenseError
func IsInvalidLicense(err error) bool {
	var target *InvalidLicenseError
	return errors.As(err, &target)
}

// IsInvalidSubscription reports whether err is, or wraps, an InvalidSubscriptionError
func IsInvalidSubscription(err error) bool {
	var target *InvalidSubscriptionError
	return errors.As(err, &target)
}

// IsDeliveryError reports whether err is, or wraps, a DeliveryError
func IsDeliveryError(err error) bool {
	var target *DeliveryError
	return errors.As(err, &target)
}

// SessionStatusCode maps a session-control error to the status code carried
// in the session result envelope.
func SessionStatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsInvalidLicense(err), IsInvalidSubscription(err):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
