package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/allisson/relay/cmd/app/commands"
	"github.com/allisson/relay/internal/app"
	"github.com/allisson/relay/internal/config"
)

func getWorkerCommands(version string) []*cli.Command {
	return []*cli.Command{
		{
			Name:  "worker",
			Usage: "Start the event consumer and the outbox dispatcher",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return commands.RunWorker(ctx, version)
			},
		},
		{
			Name:  "clean-user-states",
			Usage: "Delete cached user states older than the specified age",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:     "max-age-hours",
					Aliases:  []string{"a"},
					Required: true,
					Usage:    "Delete cached user states older than this many hours",
				},
				&cli.StringFlag{
					Name:    "format",
					Aliases: []string{"f"},
					Value:   "text",
					Usage:   "Output format: 'text' or 'json'",
				},
			},
			Action: func(ctx context.Context, cmd *cli.Command) error {
				cfg := config.Load()
				container := app.NewContainer(cfg)
				defer func() { _ = container.Shutdown(ctx) }()

				userStateUseCase, err := container.UserStateUseCase()
				if err != nil {
					return err
				}

				return commands.RunCleanUserStates(
					ctx,
					userStateUseCase,
					container.Logger(),
					commands.DefaultIO().Writer,
					int(cmd.Int("max-age-hours")),
					cmd.String("format"),
				)
			},
		},
	}
}
