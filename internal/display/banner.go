package display

import (
	"fmt"
	"os"

	"github.com/sotonghd/sotonghd/internal/term"
)

// PrintBanner prints the ASCII art banner; uses Magenta if colors are enabled.
func PrintBanner() {
	if term.Magenta != "" {
		fmt.Fprint(os.Stdout, "\033[1;95m")
	}
	fmt.Fprint(os.Stdout, ` ____        _                    _   _ ____
/ ___|  ___ | |_ ___  _ __   __ _| | | |  _ \
\___ \ / _ \| __/ _ \| '_ \ / _`+"`"+` | |_| | | | |
 ___) | (_) | || (_) | | | | (_| |  _  | |_| |
|____/ \___/ \__\___/|_| |_|\__, |_| |_|____/
                            |___/
`)
	if term.Magenta != "" {
		fmt.Fprintln(os.Stdout, term.NC)
	}
}
