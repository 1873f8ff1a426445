package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
)

const (
	ServiceName      = "proxy-remote"
	ServiceNamespace = "mcp-secure-proxy"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

func Run() error {
	app := &cli.App{
		Name:  ServiceName,
		Usage: "Remote-side ingestion core for the mcp-secure-proxy",
		Commands: []*cli.Command{
			serveCmd(),
		},
	}

	return app.Run(os.Args)
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start ingesting configured connections and serving events",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config_file",
				Usage: "Path to the connections YAML file",
				Value: "connections.yaml",
			},
			&cli.StringFlag{
				Name:  "grpc_addr",
				Usage: "Address the opaque-transport gRPC stand-in listens on",
				Value: ":9090",
			},
			&cli.StringFlag{
				Name:  "http_addr",
				Usage: "Address the dev long-poll HTTP transport listens on",
				Value: ":8090",
			},
		},
		Action: func(c *cli.Context) error {
			app := NewApp(Params{
				ConfigFile: c.String("config_file"),
				GRPCAddr:   c.String("grpc_addr"),
				HTTPAddr:   c.String("http_addr"),
			})

			if err := app.Start(c.Context); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("shutting down...")
			return app.Stop(context.Background())
		},
	}
}
