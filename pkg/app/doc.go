// Package app wires configuration into a running bilisub instance.
package app
