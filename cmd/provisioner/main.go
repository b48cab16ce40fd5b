// Command provisioner runs the domain and resource provisioning service.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "provisioner",
		Usage: "custom domains, short links, email aliases and DNS records on a managed zone",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "env-file",
				Usage:   "dotenv files to load before reading the environment",
				EnvVars: []string{"ENV_FILE"},
				Value:   cli.NewStringSlice(".env"),
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			auditCommand(),
		},
		ExitErrHandler: func(c *cli.Context, err error) {
			cli.HandleExitCoder(err)
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "provisioner:", err)
		os.Exit(1)
	}
}
