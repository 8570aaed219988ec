// Package main содержит клиент alert: собирает сообщение из аргументов
// и передаёт его демону alert-relay через UNIX-сокет.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/Kargones/alert-relay/internal/client"
	"github.com/Kargones/alert-relay/internal/config"
	"github.com/Kargones/alert-relay/internal/constants"
	"github.com/Kargones/alert-relay/internal/pkg/apperrors"
	"github.com/Kargones/alert-relay/internal/pkg/logging"
)

func main() {
	os.Exit(run(context.Background(), os.Args, os.Stderr))
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	logger := logging.NewLoggerWithWriter(logging.Config{Level: "info", Format: "text"}, stderr).
		With("program", constants.ClientName)

	cmd := newCommand(logger)
	cmd.ErrWriter = stderr
	if err := cmd.Run(ctx, args); err != nil {
		logger.Error("сообщение не отправлено", "error", err.Error())
		return apperrors.ExitCode(err)
	}
	return apperrors.ExitOK
}

func newCommand(logger logging.Logger) *cli.Command {
	return &cli.Command{
		Name:      constants.ClientName,
		Usage:     "send an alert to the local alert-relay daemon",
		Version:   constants.Version,
		ArgsUsage: "TITLE TEXT",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "channel",
				Aliases: []string{"c"},
				Usage:   "the channel to send to",
			},
			&cli.StringFlag{
				Name:    "level",
				Aliases: []string{"l"},
				Usage:   "one of OK, WARN, ERROR, UNKNOWN",
				Value:   "UNKNOWN",
			},
			&cli.StringFlag{
				Name:    "title-link",
				Aliases: []string{"t"},
				Usage:   "a link to further information",
			},
			&cli.StringSliceFlag{
				Name:    "field",
				Aliases: []string{"f"},
				Usage:   "additional key:value pair, repeatable",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"C"},
				Usage:   "config file to read socketPath from",
				Value:   constants.DefaultConfigPath,
				Sources: cli.EnvVars("AR_CONFIG"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 2 {
				return apperrors.NewAppError(apperrors.ErrInputInvalid,
					fmt.Sprintf("ожидаются аргументы TITLE TEXT, получено %d", cmd.Args().Len()), nil)
			}

			msg, err := client.Compose(client.Request{
				Title:   cmd.Args().Get(0),
				Text:    cmd.Args().Get(1),
				Level:   cmd.String("level"),
				Link:    cmd.String("title-link"),
				Channel: cmd.String("channel"),
				Fields:  cmd.StringSlice("field"),
			}, time.Now(), logger)
			if err != nil {
				return err
			}

			socketPath, err := config.LoadSocketPath(cmd.String("config"))
			if err != nil {
				return err
			}
			logger.Debug("отправка сообщения", "socket", socketPath, "message", msg.Summary())
			return client.Send(ctx, socketPath, msg)
		},
	}
}
