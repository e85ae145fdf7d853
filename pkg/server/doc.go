// Package server exposes health, metrics and a small subscription API.
package server
