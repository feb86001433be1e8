// Command railserver runs the rail game server and the tools around its
// replay log.
//
// Commands:
//   - serve: accept player and observer connections
//   - replay list|export|inspect: read the replay log
//   - observe: follow a running game as an observer
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cyberinferno/railserver/config"
	"github.com/cyberinferno/railserver/logger"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
)

const (
	Version     = "1.0.0"
	ServiceName = "railserver"
)

func main() {
	cmd := &cli.Command{
		Name:    ServiceName,
		Usage:   "rail network game server",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML config file; environment only when empty",
				Sources: cli.EnvVars("RAIL_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			replayCommand(),
			observeCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	return config.Load(cmd.String("config"))
}

// newLogger logs to stdout, and also to a file when log-dir is set.
func newLogger(conf *config.Config) (logger.Logger, error) {
	level := logger.ParseLevel(conf.LogLevel)
	if conf.LogDir != "" {
		return logger.NewZerologFileLogger(ServiceName, conf.LogDir, level)
	}

	return logger.NewZerologLogger(zerolog.New(os.Stdout), ServiceName, level), nil
}
