// Package command implements the subscription commands shared by chat and
// the CLI.
package command
