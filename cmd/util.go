package cmd

import (
	"fmt"
	"strconv"

	"github.com/sahib/config"
	"github.com/sahib/ftserve/defaults"
	logutil "github.com/sahib/ftserve/util/log"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

// ExitCode is an error that maps the error interface to a specific error
// message and a unix exit code
type ExitCode struct {
	Code    int
	Message string
}

func (err ExitCode) Error() string {
	return err.Message
}

type checkFunc func(ctx *cli.Context) int

type cmdHandlerWithConfig func(ctx *cli.Context, cfg *config.Config) error

func withArgCheck(checker checkFunc, handler cli.ActionFunc) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		if code := checker(ctx); code != Success {
			return ExitCode{code, "bad arguments"}
		}

		return handler(ctx)
	}
}

func needExactly(n int) checkFunc {
	return func(ctx *cli.Context) int {
		if ctx.NArg() != n {
			if n == 1 {
				log.Warningf("Need exactly %d argument.", n)
			} else {
				log.Warningf("Need exactly %d arguments.", n)
			}

			if err := cli.ShowCommandHelp(ctx, ctx.Command.Name); err != nil {
				log.Warningf("Failed to display --help: %v", err)
			}

			return BadArgs
		}

		return Success
	}
}

// parsePort accepts decimal ports from 1 to 65535.
// Port 0 is only allowed with `allowZero` (meaning: pick any free port).
func parsePort(s string, allowZero bool) (int, error) {
	port, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", s)
	}

	if port == 0 && !allowZero {
		return 0, fmt.Errorf("port may not be 0")
	}

	return int(port), nil
}

// loadConfig reads the config given by --config. Without the flag a
// missing default config is fine and yields the defaults.
// --log-level and --log-path override what the file says.
func loadConfig(ctx *cli.Context) (*config.Config, error) {
	path := ctx.GlobalString("config")
	if path == "" {
		path = defaults.DefaultPath
	}

	cfg, err := defaults.OpenMigratedConfig(path, ctx.GlobalIsSet("config"))
	if err != nil {
		return nil, err
	}

	overrides := map[string]string{
		"log-level": "log.level",
		"log-path":  "log.path",
	}

	for flag, key := range overrides {
		if !ctx.GlobalIsSet(flag) {
			continue
		}

		if err := cfg.SetString(key, ctx.GlobalString(flag)); err != nil {
			return nil, fmt.Errorf("--%s: %v", flag, err)
		}
	}

	return cfg, nil
}

func setupLogging(cfg *config.Config) error {
	if err := logutil.SetLogPath(cfg.String("log.path")); err != nil {
		return err
	}

	return logutil.SetLevel(cfg.String("log.level"))
}

func withConfig(handler cmdHandlerWithConfig) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		cfg, err := loadConfig(ctx)
		if err != nil {
			return ExitCode{BadArgs, fmt.Sprintf("config: %v", err)}
		}

		if err := setupLogging(cfg); err != nil {
			return ExitCode{BadArgs, fmt.Sprintf("log setup: %v", err)}
		}

		logVerbose(ctx, "log level is %s, logging to %s", cfg.String("log.level"), cfg.String("log.path"))
		return handler(ctx, cfg)
	}
}
