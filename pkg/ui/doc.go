// Package ui holds the colored terminal output used by the CLI.
package ui
