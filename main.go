package main

import (
	"os"

	"github.com/sahib/ftserve/cmd"
)

func main() {
	os.Exit(cmd.RunCmdline(os.Args))
}
