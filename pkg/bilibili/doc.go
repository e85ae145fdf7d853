// Package bilibili provides a client for the Bilibili web API.
//
// This package includes:
//   - A client whose every request passes through a shared ratelimit.Gate
//   - Envelope decoding that reports non-zero codes as errors.APIError
//   - Transport failures classified as retryable, fatal host or fatal
//   - Decoding of dynamic cards into the models.Content variants
//   - Cookie jar persistence for anonymous and logged-in sessions
//
// Example usage:
//
//	client := bilibili.NewClient(bilibili.Options{
//	    Gate:   ratelimit.NewGate(10 * time.Second),
//	    Logger: log,
//	})
//
//	videos, err := client.FetchVideos(ctx, 2)
//	if err != nil {
//	    var apiErr *errors.APIError
//	    if stderrors.As(err, &apiErr) {
//	        // the platform rejected the request
//	    }
//	}
package bilibili
