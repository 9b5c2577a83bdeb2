package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/sahib/config"
	"github.com/sahib/ftserve/client"
	"github.com/sahib/ftserve/defaults"
	"github.com/sahib/ftserve/server"
	"github.com/sahib/ftserve/version"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

func handleVersion(ctx *cli.Context) error {
	fmt.Println(version.String())
	if version.BuildTime != "" {
		fmt.Printf("Built at %s\n", version.BuildTime)
	}

	return nil
}

func runServer(cfg *config.Config, arg string) error {
	port, err := parsePort(arg, true)
	if err != nil {
		return ExitCode{BadArgs, err.Error()}
	}

	sv, err := server.BootServer(context.Background(), cfg, port, true)
	if err != nil {
		return ExitCode{ServerFailed, fmt.Sprintf("failed to boot server: %v", err)}
	}

	if err := sv.Serve(); err != nil {
		return ExitCode{ServerFailed, fmt.Sprintf("server stopped: %v", err)}
	}

	log.Infof("Server shut down")
	return nil
}

func handleServe(ctx *cli.Context, cfg *config.Config) error {
	if root := ctx.String("root"); root != "" {
		if err := cfg.SetString("server.root", root); err != nil {
			return ExitCode{BadArgs, fmt.Sprintf("--root: %v", err)}
		}
	}

	return runServer(cfg, ctx.Args().First())
}

// handleDefault runs when no command matched, which is how the
// short form `ftserve <port>` is served.
func handleDefault(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return cli.ShowAppHelp(ctx)
	}

	arg := ctx.Args().First()
	if _, err := parsePort(arg, true); err != nil || ctx.NArg() != 1 {
		commandNotFound(ctx, arg)
		return ExitCode{BadArgs, "usage: ftserve <port>"}
	}

	return withConfig(func(ctx *cli.Context, cfg *config.Config) error {
		return runServer(cfg, arg)
	})(ctx)
}

func newClient(ctx *cli.Context, host, controlPort, dataPort string) (*client.Client, error) {
	cport, err := parsePort(controlPort, false)
	if err != nil {
		return nil, errors.Wrap(err, "control port")
	}

	dport, err := parsePort(dataPort, false)
	if err != nil {
		return nil, errors.Wrap(err, "data port")
	}

	return &client.Client{
		Host:          host,
		ControlPort:   cport,
		DataPort:      uint16(dport),
		AcceptTimeout: ctx.Duration("timeout"),
	}, nil
}

func transferError(err error) error {
	switch {
	case client.IsRejected(err):
		return ExitCode{TransferFailed, color.RedString("%v", err)}
	case errors.Cause(err) == client.ErrFileNotFound:
		return ExitCode{TransferFailed, color.RedString("FILE NOT FOUND")}
	default:
		return ExitCode{TransferFailed, fmt.Sprintf("transfer failed: %v", err)}
	}
}

func handleList(ctx *cli.Context, cfg *config.Config) error {
	args := ctx.Args()
	cl, err := newClient(ctx, args.Get(0), args.Get(1), args.Get(2))
	if err != nil {
		return ExitCode{BadArgs, err.Error()}
	}


	logVerbose(ctx, "Listing %s:%d, receiving on port %d", cl.Host, cl.ControlPort, cl.DataPort)
	names, err := cl.List(context.Background())
	if err != nil {
		return transferError(err)
	}

	for _, name := range names {
		fmt.Println(name)
	}

	return nil
}

func handleGet(ctx *cli.Context, cfg *config.Config) error {
	args := ctx.Args()
	cl, err := newClient(ctx, args.Get(0), args.Get(1), args.Get(3))
	if err != nil {
		return ExitCode{BadArgs, err.Error()}
	}

	if maxSize := ctx.String("max-size"); maxSize != "" {
		size, err := defaults.ParseSize(maxSize)
		if err != nil {
			return ExitCode{BadArgs, fmt.Sprintf("--max-size: %v", err)}
		}

		if size > uint64(^uint32(0)) {
			size = uint64(^uint32(0))
		}

		cl.MaxBodySize = uint32(size)
	}


	name := args.Get(2)
	logVerbose(ctx, "Requesting %s from %s:%d", name, cl.Host, cl.ControlPort)

	data, err := cl.Get(context.Background(), name)
	if err != nil {
		return transferError(err)
	}

	path, err := client.SaveUnique(ctx.String("dest"), name, data)
	if err != nil {
		return ExitCode{UnknownError, fmt.Sprintf("failed to save: %v", err)}
	}

	fmt.Printf(
		"%s %s (%s)\n",
		color.GreenString("Saved"),
		path,
		humanize.Bytes(uint64(len(data))),
	)
	return nil
}

func handleConfig(ctx *cli.Context, cfg *config.Config) error {
	if ctx.Bool("defaults") {
		defCfg, err := defaults.OpenDefaultConfig()
		if err != nil {
			return ExitCode{UnknownError, fmt.Sprintf("config: %v", err)}
		}

		cfg = defCfg
	}

	if err := cfg.Save(config.NewYamlEncoder(os.Stdout)); err != nil {
		return ExitCode{UnknownError, fmt.Sprintf("config: %v", err)}
	}

	return nil
}
