// Package downloader fetches a notification's images through the image
// cache with a bounded worker pool.
package downloader
