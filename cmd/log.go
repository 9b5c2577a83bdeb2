package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/urfave/cli"
)

// verboseOut receives the notes of --verbose.
var verboseOut io.Writer = os.Stderr

// logVerbose prints a single line note when --verbose was given.
// It is meant for the user of the command line, not for the log.
func logVerbose(ctx *cli.Context, format string, args ...interface{}) {
	if !ctx.GlobalBool("verbose") {
		return
	}

	msg := strings.TrimRight(fmt.Sprintf(format, args...), "\n")
	fmt.Fprintln(verboseOut, color.CyanString("--"), msg)
}
