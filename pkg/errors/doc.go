// Package errors classifies failures so callers can decide what to retry.
//
// Transport failures (timeouts, resets, 5xx) are retryable. API errors carry
// the platform's code and message and are not. A host that cannot be
// resolved or dialed is fatal for the whole client. Delivery and render
// errors are logged and never retried.
package errors
