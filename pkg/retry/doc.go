// Package retry provides backoff and retry logic for transient failures in
// Bilibili API calls and chat delivery.
//
// Do retries an operation while RetryIf accepts its error, sleeping the
// Backoff delay between attempts. The default predicate retries only errors
// the errors package marks retryable.
//
// Basic usage:
//
//	err := retry.Do(ctx, func(ctx context.Context) error {
//		return client.call(ctx)
//	}, retry.DefaultConfig(log))
//
// A context built with WithStop keeps running requests alive but stops
// retrying once the stop channel closes. Poll cycles use it so a shutdown
// does not wait out a full backoff.
package retry
