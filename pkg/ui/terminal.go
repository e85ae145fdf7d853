package ui

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// Banner printed by the run command
const Banner = `
  _     _ _ _           _
 | |__ (_) (_)___ _   _| |__
 | '_ \| | | / __| | | | '_ \
 | |_) | | | \__ \ |_| | |_) |
 |_.__/|_|_|_|___/\__,_|_.__/
  bilibili subscriptions for chat
`

// Out is where the Print helpers write
var Out io.Writer = color.Output

// Color functions for terminal output
var (
	Cyan    = color.New(color.FgCyan).SprintFunc()
	Yellow  = color.New(color.FgYellow).SprintFunc()
	Red     = color.New(color.FgRed).SprintFunc()
	Green   = color.New(color.FgGreen).SprintFunc()
	Magenta = color.New(color.FgMagenta).SprintFunc()
	Dim     = color.New(color.Faint).SprintFunc()
)

// SetColor forces colors on or off
func SetColor(enabled bool) {
	color.NoColor = !enabled
}

// PrintLogo prints the banner
func PrintLogo() {
	fmt.Fprint(Out, Cyan(Banner))
}

// PrintError prints an error message in red. A non-empty detail is appended.
func PrintError(msg string, detail string) {
	if detail != "" {
		msg += ": " + detail
	}
	fmt.Fprintln(Out, Red(msg))
}

// PrintSuccess prints a success message in green
func PrintSuccess(msg string) {
	fmt.Fprintln(Out, Green(msg))
}

// PrintInfo prints a label and value
func PrintInfo(label string, value string) {
	fmt.Fprintf(Out, "%s: %s\n", Cyan(label), Yellow(value))
}

// PrintWarning prints a warning message in yellow
func PrintWarning(msg string) {
	fmt.Fprintln(Out, Yellow(msg))
}

// PrintHighlight prints a highlighted message in magenta
func PrintHighlight(msg string) {
	fmt.Fprintln(Out, Magenta(msg))
}
