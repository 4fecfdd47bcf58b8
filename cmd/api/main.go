package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "imgshare",
		Usage: "image sharing web application",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env-file",
				Value:   ".env",
				Usage:   "dotenv file loaded before reading the environment",
				EnvVars: []string{"ENV_FILE"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "start http server",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "create tables and seed roles and tags",
				Action: migrate,
			},
			{
				Name:      "promote",
				Usage:     "grant a role to a user",
				ArgsUsage: "<user name> <role>",
				Action:    promote,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
