package resilient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

// Kind is the failure taxonomy callers branch on.
type Kind string

const (
	KindTransientNetwork       Kind = "TRANSIENT_NETWORK"
	KindAuthenticationRejected Kind = "AUTHENTICATION_REJECTED"
	KindRejected               Kind = "REJECTED"
	KindRemoteUnavailable      Kind = "REMOTE_UNAVAILABLE"
	KindMalformedResponse      Kind = "MALFORMED_RESPONSE"
	KindCanceled               Kind = "CANCELED"
)

// Cause is the concrete condition behind a failed attempt. RetryPolicy.Retryable
// is expressed in causes.
type Cause string

const (
	CauseTimeout     Cause = "timeout"
	CauseConnRefused Cause = "connection_refused"
	CauseTLS         Cause = "tls"
	CauseNetwork     Cause = "network"
	CauseServerError Cause = "server_error"
	CauseRateLimited Cause = "rate_limited"
	CauseClientError Cause = "client_error"
	CauseMalformed   Cause = "malformed_response"
	CauseRejected    Cause = "rejected"
	CauseCanceled    Cause = "canceled"
	CauseUnknown     Cause = "unknown"
)

type Error struct {
	Kind       Kind
	Cause      Cause
	StatusCode int
	Attempts   int
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("resilient: %s (%s) after %d attempt(s)", e.Kind, e.Cause, e.Attempts)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" status=%d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err carries a resilient failure of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

func classifyStatus(status int) (Kind, Cause) {
	switch {
	case status >= 500:
		return KindTransientNetwork, CauseServerError
	case status == http.StatusTooManyRequests:
		// Throttling says nothing about the request itself.
		return KindTransientNetwork, CauseRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuthenticationRejected, CauseClientError
	default:
		return KindRejected, CauseClientError
	}
}

// classifyTransport maps an error from http.Client.Do or a body read. parent is
// the caller's context, used to tell a caller cancellation from an attempt
// timeout.
func classifyTransport(parent context.Context, err error) (Kind, Cause) {
	if parent.Err() != nil {
		return KindCanceled, CauseCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransientNetwork, CauseTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransientNetwork, CauseTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return KindTransientNetwork, CauseConnRefused
	}
	if isTLSError(err) {
		return KindTransientNetwork, CauseTLS
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return KindTransientNetwork, CauseNetwork
	}
	var dnsErr *net.DNSError
	var opErr *net.OpError
	if errors.As(err, &dnsErr) || errors.As(err, &opErr) {
		return KindTransientNetwork, CauseNetwork
	}
	return KindRejected, CauseUnknown
}

func isTLSError(err error) bool {
	var recordErr tls.RecordHeaderError
	var verifyErr *tls.CertificateVerificationError
	var unknownAuth x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	var invalidErr x509.CertificateInvalidError
	return errors.As(err, &recordErr) ||
		errors.As(err, &verifyErr) ||
		errors.As(err, &unknownAuth) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &invalidErr)
}
