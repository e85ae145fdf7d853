// Package poller runs the fetch, diff and notify loop for one entity.
//
// Each cycle reads the video, dynamic and live feeds, notifies every item
// newer than the stored watermark in timestamp order, then saves the
// advanced watermarks in one write. Items are notified before the write, so
// a crash between the two can repeat a notification but a failed delivery
// is never retried.
package poller
