package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/chunkstore/cmd/flags"
	"github.com/ruteri/chunkstore/httpserver"
	"github.com/ruteri/chunkstore/resource"
	"github.com/ruteri/chunkstore/storage"
	"github.com/urfave/cli/v2"
)

var listenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}

func main() {
	app := &cli.App{
		Name:  "chunkstore-server",
		Usage: "Serve a chunk store over HTTP",
		Flags: append(append([]cli.Flag{listenAddrFlag}, flags.CommonFlags...), flags.StoreFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			cfg, err := flags.LoadConfig(cCtx)
			if err != nil {
				logger.Error("Invalid store configuration", "err", err)
				return err
			}

			registry := resource.NewRegistry(logger)
			defer func() {
				if err := registry.Shutdown(); err != nil {
					logger.Error("Failed to close shared resources", "err", err)
				}
			}()

			store, err := storage.NewStoreFactory(logger, registry).CreateStore(context.Background(), cfg)
			if err != nil {
				logger.Error("Failed to create store", "err", err)
				return err
			}
			defer store.Close()

			server, err := httpserver.New(flags.ConfigureServer(cCtx, logger, cCtx.String(listenAddrFlag.Name)), httpserver.NewHandler(store, logger))
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

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
