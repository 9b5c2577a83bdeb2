package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/sahib/ftserve/client"
	"github.com/sahib/ftserve/defaults"
	"github.com/sahib/ftserve/version"
	"github.com/urfave/cli"
)

func formatGroup(category string) string {
	return strings.ToUpper(category) + " COMMANDS"
}

////////////////////////////
// Commandline definition //
////////////////////////////

// RunCmdline starts the ftserve commandline tool and returns the exit code.
func RunCmdline(args []string) int {
	app := cli.NewApp()
	app.Name = "ftserve"
	app.Usage = "Serve a directory over a two-connection file transfer protocol"
	app.UsageText = "ftserve [global options] <port>\n   ftserve [global options] command [arguments...]"
	app.EnableBashCompletion = true
	app.Version = fmt.Sprintf(
		"%s [buildtime: %s]",
		version.String(),
		version.BuildTime,
	)
	app.CommandNotFound = commandNotFound
	app.Action = handleDefault

	serverGroup := formatGroup("server")
	clientGroup := formatGroup("client")
	miscGroup := formatGroup("misc")

	clientFlags := []cli.Flag{
		cli.DurationFlag{
			Name:  "timeout,t",
			Value: client.DefaultAcceptTimeout,
			Usage: "How long the server may stay silent (connecting back, during the transfer)",
		},
	}

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config,c",
			Usage:  "Path of the config file",
			Value:  defaults.DefaultPath,
			EnvVar: "FTSERVE_CONFIG",
		},
		cli.StringFlag{
			Name:   "log-level,L",
			Usage:  "One of debug, info, warning or error (overwrites log.level)",
			EnvVar: "FTSERVE_LOG_LEVEL",
		},
		cli.StringFlag{
			Name:   "log-path,l",
			Usage:  "Where to output the log. May be 'stderr', 'stdout' or a file (overwrites log.path)",
			EnvVar: "FTSERVE_LOG",
		},
		cli.BoolFlag{
			Name:  "verbose,V",
			Usage: "Tell what's going on on stderr",
		},
	}

	app.Commands = []cli.Command{
		{
			Name:      "serve",
			Aliases:   []string{"s"},
			Category:  serverGroup,
			Usage:     "Serve a directory on <port>",
			ArgsUsage: "<port>",
			Description: "Waits for control connections on <port>. Each one carries either\n" +
				"   '-l <data-port>' (list the served directory) or '-g <file> <data-port>'.\n" +
				"   The answer is sent over a new connection to <data-port> on the requesting host.",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "root,r",
					Usage: "Directory to serve (overwrites server.root)",
				},
			},
			Action: withArgCheck(needExactly(1), withConfig(handleServe)),
		},
		{
			Name:      "ls",
			Category:  clientGroup,
			Usage:     "List the directory served by a server",
			ArgsUsage: "<host> <control-port> <data-port>",
			Flags:     clientFlags,
			Action:    withArgCheck(needExactly(3), withConfig(handleList)),
		},
		{
			Name:      "get",
			Category:  clientGroup,
			Usage:     "Download a file from a server",
			ArgsUsage: "<host> <control-port> <filename> <data-port>",
			Description: "The file is stored in --dest under its base name. Existing files\n" +
				"   are never overwritten; a counter is added to the name instead.",
			Flags: append([]cli.Flag{
				cli.StringFlag{
					Name:  "dest,d",
					Value: ".",
					Usage: "Directory to store the file in",
				},
				cli.StringFlag{
					Name:  "max-size,m",
					Usage: "Refuse files bigger than this (e.g. '100 MB')",
				},
			}, clientFlags...),
			Action: withArgCheck(needExactly(4), withConfig(handleGet)),
		},
		{
			Name:     "config",
			Category: miscGroup,
			Usage:    "Print the effective configuration as YAML",
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "defaults,d",
					Usage: "Print only the default values",
				},
			},
			Action: withArgCheck(needExactly(0), withConfig(handleConfig)),
		},
		{
			Name:     "version",
			Category: miscGroup,
			Usage:    "Print the version and exit",
			Action:   handleVersion,
		},
	}

	if err := app.Run(args); err != nil {
		if exitCode, ok := err.(ExitCode); ok {
			if exitCode.Message != "" {
				fmt.Fprintln(os.Stderr, exitCode.Message)
			}

			return exitCode.Code
		}

		// Everything else comes from flag parsing.
		fmt.Fprintln(os.Stderr, color.RedString("%v", err))
		return BadArgs
	}

	return Success
}
