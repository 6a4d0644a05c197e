package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ruteri/soulbox-vault/api/vaulthandler"
	"github.com/ruteri/soulbox-vault/cmd/flags"
	"github.com/ruteri/soulbox-vault/common"
	"github.com/ruteri/soulbox-vault/config"
	"github.com/ruteri/soulbox-vault/httpserver"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "vaultd",
		Usage: "Serve the SoulBox guardian secret-sharing vault API",
		Flags: append([]cli.Flag{
			flags.ConfigFileFlag,
			flags.ListenAddrFlag,
			flags.DatabaseDSNFlag,
			flags.StorageFlag,
			flags.LogServiceFlagFn(common.PackageName),
		}, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			cfg, err := config.Load(cCtx.String(flags.ConfigFileFlag.Name))
			if err != nil {
				logger.Error("Failed to load config", "err", err)
				return err
			}
			flags.ApplyOverrides(cCtx, cfg)
			if err := cfg.Validate(); err != nil {
				logger.Error("Invalid config", "err", err)
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			c, err := buildComponents(ctx, cfg, logger)
			if err != nil {
				logger.Error("Failed to initialize vault", "err", err)
				return err
			}
			defer c.Close()

			// Sessions that were pending when the process stopped get their
			// timers back, or expire right away if they are overdue.
			expired, err := c.svc.ExpireStale(ctx)
			if err != nil {
				logger.Error("Failed to resume pending sessions", "err", err)
				return err
			}
			logger.Info("Resumed pending sessions", "expired", expired)

			handler := vaulthandler.NewHandler(c.svc, c.jwt, logger)
			server := httpserver.New(flags.ConfigureServer(logger, cfg.HTTP), handler, c.svc, c.metrics)

			logger.Info("Starting server")
			server.RunInBackground()

			// Wait for termination signal
			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
