// Package main содержит точку входа демона alert-relay: приём алертов через
// UNIX-сокет, доставку в чат-бэкенды и повтор недоставленных сообщений.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/Kargones/alert-relay/internal/config"
	"github.com/Kargones/alert-relay/internal/constants"
	"github.com/Kargones/alert-relay/internal/di"
	"github.com/Kargones/alert-relay/internal/pkg/apperrors"
)

func main() {
	os.Exit(run(context.Background(), os.Args, os.Stderr))
}

// run выполняет демон и возвращает статус завершения.
// os.Exit вызывается только в main, после отработки всех defer.
func run(ctx context.Context, args []string, stderr io.Writer) int {
	cmd := newCommand()
	cmd.ErrWriter = stderr
	if err := cmd.Run(ctx, args); err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", constants.DaemonName, err)
		return apperrors.ExitCode(err)
	}
	return apperrors.ExitOK
}

func newCommand() *cli.Command {
	// -v занят флагом --verbose.
	cli.VersionFlag = &cli.BoolFlag{Name: "version", Aliases: []string{"V"}, Usage: "print the version"}

	return &cli.Command{
		Name:    constants.DaemonName,
		Usage:   "relay alerts from local clients to chat backends",
		Version: constants.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
				Value:   constants.DefaultConfigPath,
				Sources: cli.EnvVars("AR_CONFIG"),
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "force debug logging",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load(cmd.String("config"))
			if err != nil {
				return err
			}
			if cmd.Bool("verbose") {
				cfg.Logging.Level = "debug"
			}

			app, err := di.InitializeApp(cfg)
			if err != nil {
				return err
			}
			app.Logger.Debug("информация о сборке", "version", constants.Version)

			if err := app.Daemon.Run(ctx); err != nil {
				app.Logger.Error("демон завершился с ошибкой",
					"error", err.Error(),
					"code", apperrors.Code(err),
				)
				return err
			}
			return nil
		},
	}
}
