package config

import (
	"fmt"
	"os"
)

// Exitf reports a fatal startup problem on stderr and terminates the
// process with status 1. Meant for the window before the engine opens,
// when a bad environment leaves nothing to clean up. A trailing newline
// is added for the caller.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
