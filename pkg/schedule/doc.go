// Package schedule keeps per-destination time windows that mute delivery
// (sleep) or add a mention-all marker (at).
package schedule
