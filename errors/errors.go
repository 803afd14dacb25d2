// Package errors defines the error taxonomy shared by every acquisition flow.
//
// There are four kinds of failures a caller can see:
//
//   - ClientError: a fatal, local misconfiguration (bad redirect URI, duplicate
//     query parameter, missing password, ...). Never retried.
//   - ServiceError: the identity provider rejected the request. The original
//     HTTP status, headers and body are preserved for inspection.
//   - UIRequiredError: a ServiceError subtype signaling the caller must prompt
//     the user. The orchestrator uses these to drive broker/interactive
//     fallback before surfacing them.
//   - ClaimsChallengeError: invalid_grant carrying a claims payload the caller
//     should replay on the next request.
//
// Transport failures (connection errors, oversized responses) propagate
// unmodified, wrapped only in CallErr so the request/response pair is not lost.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/kylelemons/godebug/pretty"
)

var prettyConf = &pretty.Config{IncludeUnexported: false, SkipZeroFields: true, TrackCycles: true}

type verboser interface {
	Verbose() string
}

// Verbose prints the most verbose error message available.
func Verbose(err error) string {
	if v, ok := err.(verboser); ok {
		return v.Verbose()
	}
	return err.Error()
}

// New is equivalent to errors.New().
func New(text string) error {
	return errors.New(text)
}

// Is is equivalent to errors.Is().
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is equivalent to errors.As().
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// CallErr represents an HTTP call error. Has a Verbose() method that allows
// getting the http.Request and Response objects. Implements error.
type CallErr struct {
	Req *http.Request
	// Resp contains response body
	Resp *http.Response
	Err  error
}

// Error implements error.Error().
func (e CallErr) Error() string {
	return e.Err.Error()
}

// Unwrap exposes the underlying error for errors.Is/As.
func (e CallErr) Unwrap() error {
	return e.Err
}

// Verbose prints a verbose error message with the request and response.
func (e CallErr) Verbose() string {
	e.Resp.Request = nil // This brings in a bunch of TLS crap we don't need
	e.Resp.TLS = nil     // Same
	return fmt.Sprintf("%s:\n\tRequest:\n%s\n\tResponse:\n%s", e.Err, prettyConf.Sprint(e.Req), prettyConf.Sprint(e.Resp))
}

// Client error codes. These identify failures that are caused by the caller's
// configuration or input and are never retried.
const (
	DuplicateQueryParameter    = "duplicate_query_parameter"
	InvalidRedirectURI         = "invalid_redirect_uri"
	StateMismatch              = "state_mismatch"
	UnknownUserType            = "unknown_user_type"
	PasswordRequired           = "password_required_for_managed_user"
	MtlsCertificateNotProvided = "mtls_certificate_not_provided"
	RegionRequiredForMtlsPop   = "region_required_for_mtls_pop"
	MultipleMatchingTokens     = "multiple_matching_tokens_detected"
	InternalError              = "internal_error"

	IntegratedAuthFederationRequired  = "integrated_windows_auth_not_supported_managed_user"
	IntegratedAuthEndpointUnavailable = "wstrust_endpoint_unavailable"
	BrokerRequired                    = "broker_required"
)

// UI-required error codes.
const (
	InteractionRequired = "interaction_required"
	InvalidGrant        = "invalid_grant"
	NoTokensFound       = "no_tokens_found"
	NoAccountForHint    = "no_account_for_login_hint"
	OboKeyNotInCache    = "obo_cache_key_not_in_cache"
	ClientMismatch      = "client_mismatch"
)

// ClientError is a fatal error caused by the calling application, detected
// before or without any network call.
type ClientError struct {
	// Code is one of the client error code constants.
	Code    string
	Message string
}

func (e ClientError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewClientError creates a ClientError with a formatted message.
func NewClientError(code, format string, args ...interface{}) ClientError {
	return ClientError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ServiceError is a protocol-level rejection from the identity provider. The
// raw HTTP exchange is preserved so callers can inspect status, headers and
// body.
type ServiceError struct {
	// Code is the OAuth error code, e.g. "invalid_client".
	Code string
	// SubError refines Code, e.g. "client_mismatch" under "invalid_grant".
	SubError    string
	Description string
	// CorrelationID identifies the request for support investigations.
	CorrelationID string

	StatusCode int
	Header     http.Header
	Body       []byte
}

func (e ServiceError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Verbose prints the error with the preserved response body.
func (e ServiceError) Verbose() string {
	return fmt.Sprintf("%s\n\tStatus: %d\n\tBody:\n%s", e.Error(), e.StatusCode, string(e.Body))
}

// UIRequiredError signals that silent authentication cannot succeed and the
// user must be prompted. It wraps the service response where one exists.
type UIRequiredError struct {
	// Code is one of the UI-required error code constants.
	Code string
	// Classification is the server's guidance on what kind of interaction is
	// needed, e.g. "basic_action" or "consent_required". Empty for errors
	// raised locally such as NoTokensFound.
	Classification string
	Message        string

	// Service holds the originating provider response, if any.
	Service *ServiceError
}

func (e UIRequiredError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped service error.
func (e UIRequiredError) Unwrap() error {
	if e.Service == nil {
		return nil
	}
	return *e.Service
}

// ClaimsChallengeError is an invalid_grant response that carries a claims
// payload. The caller should replay the request with Claims set.
type ClaimsChallengeError struct {
	UIRequiredError

	// Claims is the raw claims challenge to replay.
	Claims string
}

// IsUIRequired reports whether err (anywhere in its chain) requires user
// interaction to resolve.
func IsUIRequired(err error) bool {
	var ui UIRequiredError
	if errors.As(err, &ui) {
		return true
	}
	var cc ClaimsChallengeError
	if errors.As(err, &cc) {
		return true
	}
	var svc ServiceError
	if errors.As(err, &svc) {
		switch svc.Code {
		case InvalidGrant, InteractionRequired:
			return true
		}
	}
	return false
}

// IsInvalidGrant reports whether err is an invalid_grant rejection.
func IsInvalidGrant(err error) bool {
	var svc ServiceError
	if errors.As(err, &svc) {
		return svc.Code == InvalidGrant
	}
	var ui UIRequiredError
	if errors.As(err, &ui) {
		return ui.Code == InvalidGrant
	}
	return false
}

// IsAuthorizationPending reports whether err is the device-code flow's
// expected "keep polling" response. These are transient and must not be
// treated (or logged) as failures.
func IsAuthorizationPending(err error) bool {
	return err != nil && strings.Contains(err.Error(), "authorization_pending")
}

// IsSlowDown reports whether the server asked the device-code poll loop to
// back off.
func IsSlowDown(err error) bool {
	return err != nil && strings.Contains(err.Error(), "slow_down")
}
