/*
dashctl drives container lifecycle actions against the dashboard backend from the command line and
follows the jobs they start.
*/
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

func containerFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "container",
		Usage: "container id",
	}
}

func timeoutFlag() cli.Flag {
	return &cli.DurationFlag{
		Name:  "timeout",
		Usage: "give up waiting for a job after this long (0 waits forever)",
	}
}

func followFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "follow",
		Usage: "keep following until the operation finishes or ctrl-c",
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "dashctl",
		Usage: "start and stop dashboard containers and follow their jobs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "yaml config file, built-in defaults if not given",
			},
			&cli.StringFlag{
				Name:  "env",
				Usage: "environment file to load before reading config",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:  "project",
				Usage: "project the container belongs to",
			},
			&cli.StringFlag{
				Name:  "loglevel",
				Usage: "override logging.level from the config",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "toggle",
				Usage:     "stop a running container or start a stopped one, and wait for the result",
				ArgsUsage: "[container]",
				Flags: []cli.Flag{
					containerFlag(),
					timeoutFlag(),
					followFlag(),
					&cli.StringFlag{
						Name:  "current",
						Usage: "status the container is known to be in; fetched if not given",
					},
				},
				Action: toggleAction,
			},
			{
				Name:      "wait",
				Usage:     "wait for a job to finish and print its logs",
				ArgsUsage: "[job id]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "job",
						Usage: "job id",
					},
					timeoutFlag(),
				},
				Action: waitAction,
			},
			{
				Name:      "status",
				Usage:     "show a container's status",
				ArgsUsage: "[container]",
				Flags: []cli.Flag{
					containerFlag(),
					followFlag(),
				},
				Action: statusAction,
			},
			{
				Name:      "watch",
				Usage:     "stream job logs over the push channel until the jobs finish",
				ArgsUsage: "[job id...]",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:  "job",
						Usage: "job id, may be repeated",
					},
					timeoutFlag(),
				},
				Action: watchAction,
			},
			{
				Name:      "logs",
				Usage:     "print the tail of a container's own output",
				ArgsUsage: "[container]",
				Flags: []cli.Flag{
					containerFlag(),
					&cli.IntFlag{
						Name:  "tail",
						Usage: "number of lines",
						Value: 100,
					},
				},
				Action: logsAction,
			},
			{
				Name:  "jobs",
				Usage: "job records on the backend",
				Commands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "list jobs",
						Action: jobsListAction,
					},
					{
						Name:      "show",
						Usage:     "show one job with its logs",
						ArgsUsage: "<job id>",
						Action:    jobsShowAction,
					},
					{
						Name:      "delete",
						Usage:     "delete a job",
						ArgsUsage: "<job id>",
						Action:    jobsDeleteAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
