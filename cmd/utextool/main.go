package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/user/utexgo/internal/logger"
)

var log logger.Logger = logger.Default(logger.ParseLevel("info"))

func main() {
	app := &cli.Command{
		Name:  "utextool",
		Usage: "Inspect and patch texture assets across engine-version dialects",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug, info, warn, error)",
				Value: "info",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			log = logger.Default(logger.ParseLevel(cmd.String("log-level")))
			return ctx, nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			infoCmd(),
			detectCmd(),
			exportCmd(),
			injectCmd(),
			removeMipsCmd(),
			batchCmd(),
			chunkCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
