package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"syscall"
)

// TransportError is a failure to complete an HTTP exchange with the platform.
// Retryable transport errors are ignored by the poller for the current cycle.
type TransportError struct {
	Op        string
	Retryable bool
	Err       error
}

func (e *TransportError) Error() string {
	kind := "fatal"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("%s transport error during %s: %v", kind, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// APIError is a non-zero code reported in the platform's response envelope.
type APIError struct {
	Endpoint string
	Code     int
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error from %s (code %d): %s", e.Endpoint, e.Code, e.Message)
}

// FatalHostError means the remote host could not be resolved or reached.
// It is never retried within a cycle.
type FatalHostError struct {
	Host string
	Err  error
}

func (e *FatalHostError) Error() string {
	return fmt.Sprintf("host %s unreachable: %v", e.Host, e.Err)
}

func (e *FatalHostError) Unwrap() error { return e.Err }

// DeliveryError is a failed send to a single chat destination.
type DeliveryError struct {
	Destination string
	Err         error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to %s failed: %v", e.Destination, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// RenderError is a feed item that could not be rendered with its template.
type RenderError struct {
	Kind string
	Err  error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s: %v", e.Kind, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Classify maps a raw error returned by an http.Client into the taxonomy.
// Errors that are already classified, and context errors, are returned as is.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var (
		transportErr *TransportError
		hostErr      *FatalHostError
		apiErr       *APIError
	)
	if errors.As(err, &transportErr) || errors.As(err, &hostErr) || errors.As(err, &apiErr) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && !dnsErr.IsTimeout {
		return &FatalHostError{Host: dnsErr.Name, Err: err}
	}
	if errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return &FatalHostError{Host: hostOf(err), Err: err}
	}

	if isTimeout(err) {
		return &TransportError{Op: op, Retryable: true, Err: err}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return &TransportError{Op: op, Retryable: true, Err: err}
	}

	return &TransportError{Op: op, Retryable: false, Err: err}
}

// IsRetryable reports whether err is worth another attempt
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return transportErr.Retryable
	}

	var httpErr *Error
	if errors.As(err, &httpErr) {
		return IsRetryableType(httpErr.Type)
	}

	return false
}

// IsFatalHost reports whether err is a DNS or unreachable host failure
func IsFatalHost(err error) bool {
	var hostErr *FatalHostError
	return errors.As(err, &hostErr)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func hostOf(err error) string {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if u, perr := url.Parse(urlErr.URL); perr == nil {
			return u.Host
		}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Addr != nil {
		return opErr.Addr.String()
	}
	return ""
}
