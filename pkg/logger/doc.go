// Package logger provides the structured logging interface used across bilisub.
//
// It wraps zerolog. Components receive a Logger through their constructors
// and derive children with WithField/WithFields so every line carries the
// entity uid, destination or cycle id it belongs to:
//
//	log := base.WithField("component", "poller").WithField("uid", uid)
//	log.InfoWithFields("Cycle delivered new items", map[string]interface{}{
//	    "videos": 2,
//	})
//
// Console output is colored and human oriented; set logging.format to
// "json" for line-delimited JSON. When logging.file is set, lines are
// also appended to that file.
//
// Tests use NewTestLogger to capture and assert on messages, or
// NewNopLogger to discard them.
package logger
